package agent

import (
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zfair/uniqd/wire"
)

// maxDatagramsPerWake bounds how many pending datagrams the dispatcher
// drains before it goes back to polling for new ones and checking
// lease renewal, so one exceptionally bursty caller can't starve
// MaybeRenew.
const maxDatagramsPerWake = 10000

// pollTimeout is how long ReadFromUDP blocks before the dispatcher
// re-checks the exit channel and calls MaybeRenew, even with no
// traffic at all.
const pollTimeout = 10 * time.Second

// dispatchLoop is the single-threaded event loop: read, decode,
// handle, reply, with lease renewal folded into the same goroutine so
// the label and the sequence store are never touched from two
// goroutines at once.
func (s *Server) dispatchLoop() error {
	s.logger.Info("dispatcher listening", zap.Stringer("addr", s.conn.LocalAddr()))

	buf := make([]byte, wire.Size)
	for {
		select {
		case <-s.exitChan:
			s.logger.Info("dispatcher closing")
			return nil
		default:
		}

		now := time.Now()
		s.lease.MaybeRenew(now)

		if err := s.conn.SetReadDeadline(now.Add(pollTimeout)); err != nil {
			return errors.Wrap(err, "dispatcher: set read deadline")
		}

		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if isClosed(err) {
				return nil
			}
			s.logger.Warn("dispatcher: read error", zap.Error(err))
			continue
		}
		s.handleDatagram(buf[:n], from, now)

		s.drainPending(buf)
	}
}

// drainPending processes any further datagrams already queued on the
// socket without blocking, up to maxDatagramsPerWake, before returning
// control to the top of dispatchLoop for a fresh MaybeRenew check.
func (s *Server) drainPending(buf []byte) {
	for i := 0; i < maxDatagramsPerWake; i++ {
		if err := s.conn.SetReadDeadline(time.Now()); err != nil {
			return
		}
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return // deadline hit: nothing else queued right now
		}
		s.handleDatagram(buf[:n], from, time.Now())
	}
}

func (s *Server) handleDatagram(b []byte, from *net.UDPAddr, now time.Time) {
	req, ok := wire.Decode(b)
	if !ok {
		return // malformed frame, silently dropped
	}

	resp := s.handle(req, now)
	if resp.Type == 0 {
		return // asynchronous message (RESPONSE_LABEL, RESPONSE_ERROR); no reply owed
	}

	if _, err := s.conn.WriteToUDP(wire.Encode(resp), from); err != nil {
		s.logger.Warn("dispatcher: write error", zap.Error(err), zap.Stringer("to", from))
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// isClosed reports whether err is the "use of closed network
// connection" that follows a listener Close from another goroutine.
// net.ErrClosed doesn't exist before go1.16, so this matches the
// error string directly.
func isClosed(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}
