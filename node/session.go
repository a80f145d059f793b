package node

import (
	"context"
	"crypto/cipher"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/torpydo/torpydo/tpdp"
)

// session relays bytes between a node's source connection and the
// destination it dialed during the handshake, applying one layer of
// hop-key encryption or decryption in each direction. Chunk boundaries
// are transport-defined; the pumps never interpret the byte stream.
type session struct {
	source net.Conn
	dest   net.Conn
	hop    *tpdp.CipherPair
	logger *slog.Logger
}

func (s *session) run() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		s.pump(s.dest, &cipher.StreamReader{S: s.hop.Decrypt, R: s.source}, "forward")
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.pump(s.source, &cipher.StreamReader{S: s.hop.Encrypt, R: s.dest}, "reverse")
	}()

	<-ctx.Done()
	_ = s.source.Close()
	_ = s.dest.Close()
	wg.Wait()
}

func (s *session) pump(dst io.Writer, src io.Reader, direction string) {
	n, err := io.Copy(dst, src)
	if err != nil {
		s.logger.Debug("pump ended", "direction", direction, "bytes", humanize.Bytes(uint64(n)), "error", err)
		return
	}
	s.logger.Debug("pump ended", "direction", direction, "bytes", humanize.Bytes(uint64(n)))
}
