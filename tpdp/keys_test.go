package tpdp

import "testing"

func TestSharedSecretAgreement(t *testing.T) {
	aPriv, aPub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair (a): %v", err)
	}
	bPriv, bPub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair (b): %v", err)
	}

	aKey, err := SharedSecret(aPriv, bPub)
	if err != nil {
		t.Fatalf("SharedSecret (a): %v", err)
	}
	bKey, err := SharedSecret(bPriv, aPub)
	if err != nil {
		t.Fatalf("SharedSecret (b): %v", err)
	}

	if aKey != bKey {
		t.Fatalf("shared secrets disagree: %x != %x", aKey, bKey)
	}
}

func TestCipherPairRoundTrip(t *testing.T) {
	var hk HopKey
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	hk.Nonce = nonce
	for i := range hk.Key {
		hk.Key[i] = byte(i)
	}

	source, err := NewCipherPair(hk)
	if err != nil {
		t.Fatalf("NewCipherPair (source): %v", err)
	}
	dest, err := NewCipherPair(hk)
	if err != nil {
		t.Fatalf("NewCipherPair (dest): %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ct := make([]byte, len(plaintext))
	source.Encrypt.XORKeyStream(ct, plaintext)

	same := true
	for i := range ct {
		if ct[i] != plaintext[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("ciphertext identical to plaintext")
	}

	pt := make([]byte, len(ct))
	dest.Decrypt.XORKeyStream(pt, ct)
	if string(pt) != string(plaintext) {
		t.Fatalf("round trip failed: got %q want %q", pt, plaintext)
	}
}

func TestCipherPairCountersAdvanceIndependently(t *testing.T) {
	var hk HopKey
	for i := range hk.Key {
		hk.Key[i] = byte(i + 1)
	}
	for i := range hk.Nonce {
		hk.Nonce[i] = byte(i + 2)
	}
	pair, err := NewCipherPair(hk)
	if err != nil {
		t.Fatalf("NewCipherPair: %v", err)
	}

	block := make([]byte, 8)
	first := make([]byte, 8)
	pair.Encrypt.XORKeyStream(first, block)
	second := make([]byte, 8)
	pair.Encrypt.XORKeyStream(second, block)
	if string(first) == string(second) {
		t.Fatal("encrypt stream did not advance between calls")
	}

	decryptFirst := make([]byte, 8)
	pair.Decrypt.XORKeyStream(decryptFirst, block)
	if string(decryptFirst) != string(first) {
		t.Fatal("decrypt stream, freshly started, should match encrypt stream's first output")
	}
}
