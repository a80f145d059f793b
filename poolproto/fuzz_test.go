package poolproto

import (
	"bytes"
	"testing"
)

func FuzzReadFrame(f *testing.F) {
	f.Add([]byte{byte(OpRegister), 0, 0, 0, 0})
	f.Add([]byte{byte(OpList), 0, 0, 0, 4, 't', 'e', 's', 't'})
	f.Add([]byte{})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic on any input, truncated or otherwise malformed.
		_, _, _ = readFrame(bytes.NewReader(data))
	})
}
