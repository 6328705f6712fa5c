package goFallback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/MrEthical07/goFallback/protocol"
	"golang.org/x/sync/errgroup"
)

// maxFrameLength is the largest length a three-byte VarInt prefix can carry.
const maxFrameLength = 1<<21 - 1

var errFrameTooLarge = errors.New("frame exceeds maximum length")

// Serve drives one connection through verification on the calling
// goroutine and returns the verdict. Verified pairs return OutcomeSuccess
// without a session. A failed connection is closed; a passed one is left
// open for the host to hand off. Cancelling ctx closes the connection and
// aborts the session.
func (e *Engine) Serve(ctx context.Context, conn FrameConn, info ConnectionInfo) (Outcome, error) {
	if e == nil || e.closed.Load() {
		return Outcome{}, ErrEngineNotReady
	}
	if !e.ShouldVerify(ctx, info.Address, info.Identity) {
		return Outcome{Kind: OutcomeSuccess, Identity: info.Identity}, nil
	}

	s, err := e.OpenSession(ctx, info, conn, nil)
	if err != nil {
		return Outcome{}, err
	}
	if out := s.Outcome(); out.Terminal() {
		_ = conn.Close()
		return out, nil
	}

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(done)
		for {
			if err := conn.SetReadDeadline(s.Deadline()); err != nil {
				s.Abort()
				return fmt.Errorf("set read deadline: %w", err)
			}
			frame, err := conn.ReadFrame()
			if err != nil {
				if isTimeout(err) {
					if s.CheckDeadline().Terminal() {
						return nil
					}
					continue
				}
				s.Abort()
				return nil
			}
			if s.Deliver(frame).Terminal() {
				return nil
			}
		}
	})

	g.Go(func() error {
		select {
		case <-done:
			return nil
		case <-gctx.Done():
			select {
			case <-done:
				return nil
			default:
			}
			_ = conn.Close()
			return gctx.Err()
		}
	})

	err = g.Wait()
	out := s.Outcome()
	if out.Kind == OutcomeFailure {
		_ = conn.Close()
	}
	if out.Kind == OutcomeSuccess {
		_ = conn.SetReadDeadline(time.Time{})
	}
	return out, err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// streamConn frames a byte stream with VarInt length prefixes, the
// uncompressed play-state framing.
type streamConn struct {
	conn net.Conn
	r    *bufio.Reader
	mu   sync.Mutex
}

// NewFrameConn wraps a stream connection with VarInt length framing.
func NewFrameConn(conn net.Conn) FrameConn {
	return &streamConn{conn: conn, r: bufio.NewReader(conn)}
}

func (c *streamConn) ReadFrame() ([]byte, error) {
	n, err := readVarInt(c.r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxFrameLength {
		return nil, fmt.Errorf("%w: %d", errFrameTooLarge, n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(c.r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (c *streamConn) WriteFrame(frame []byte) error {
	if len(frame) > maxFrameLength {
		return fmt.Errorf("%w: %d", errFrameTooLarge, len(frame))
	}
	w := protocol.NewWriter()
	w.WriteVarInt(int32(len(frame)))
	w.WriteBytes(frame)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(w.Bytes())
	return err
}

func (c *streamConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *streamConn) Close() error { return c.conn.Close() }

func readVarInt(r io.ByteReader) (int32, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(v), nil
		}
	}
	return 0, fmt.Errorf("%w: varint too long", protocol.ErrCorruptPacket)
}
