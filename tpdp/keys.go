package tpdp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo pins the HKDF-SHA256 info parameter. spec.md §9 leaves the
// HKDF salt/info unspecified by TPDP/0.1; every implementation on the
// wire must agree on the same values, so they are pinned here.
const hkdfInfo = "TPDP/0.1 key expand"

// HopKey is the per-hop symmetric state negotiated during a handshake: a
// 32-byte AES-256 key and a 16-byte, source-chosen nonce used as the
// AES-CTR initial counter block.
type HopKey struct {
	Key   [32]byte
	Nonce [16]byte
}

// Zero overwrites the key material so it does not linger in memory
// beyond the handshake that produced it.
func (hk *HopKey) Zero() {
	clear(hk.Key[:])
	clear(hk.Nonce[:])
}

// CipherPair holds the two AES-256-CTR stream instances derived from a
// single HopKey: one used for traffic flowing toward the node (source to
// destination), one for traffic flowing back. Both are constructed from
// the same key and nonce and so must never be applied to the same byte
// twice, but each tracks its own counter independently of the other.
type CipherPair struct {
	Encrypt cipher.Stream
	Decrypt cipher.Stream
}

// NewCipherPair instantiates the two independent AES-256-CTR streams for
// a hop's key material.
func NewCipherPair(hk HopKey) (*CipherPair, error) {
	block, err := aes.NewCipher(hk.Key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return &CipherPair{
		Encrypt: cipher.NewCTR(block, hk.Nonce[:]),
		Decrypt: cipher.NewCTR(block, hk.Nonce[:]),
	}, nil
}

// GenerateKeyPair creates an ephemeral X25519 key pair from a CSPRNG.
func GenerateKeyPair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("generate private key: %w", err)
	}
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("derive public key: %w", err)
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

// SharedSecret computes the X25519 ECDH shared point and derives a
// 32-byte symmetric key from it via HKDF-SHA256, pinned to a nil salt
// and the hkdfInfo context string.
func SharedSecret(priv, peerPub [32]byte) (key [32]byte, err error) {
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return key, fmt.Errorf("x25519: %w", err)
	}
	defer clear(secret)

	kdf := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

// GenerateNonce produces a fresh 16-byte AES-CTR nonce from a CSPRNG.
func GenerateNonce() (nonce [16]byte, err error) {
	if _, err = rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}
