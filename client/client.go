// Package client is a thin, retrying UDP requester for talking to an
// agent or a master over the wire protocol. The agent's own
// synchronous master-acquisition path (internal/lease.Client.Acquire)
// uses it unchanged, since an agent talking to a master is the same
// wire contract as an application talking to an agent.
package client

import (
	"context"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zfair/uniqd/wire"
)

// Metrics is a plain struct of atomic counters, not a process-wide
// singleton, so multiple Clients in the same process never share
// counters.
type Metrics struct {
	Requests    uint64
	Timeouts    uint64
	OtherErrors uint64
	Retries     uint64
}

func (m *Metrics) String() string {
	return "requests=" + itoa(atomic.LoadUint64(&m.Requests)) +
		" timeouts=" + itoa(atomic.LoadUint64(&m.Timeouts)) +
		" errors=" + itoa(atomic.LoadUint64(&m.OtherErrors)) +
		" retries=" + itoa(atomic.LoadUint64(&m.Retries))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// SelectMode picks how Client chooses among Agents on each attempt.
type SelectMode int

const (
	// SelectPolling cycles through agents in order.
	SelectPolling SelectMode = iota
	// SelectRandom picks a uniformly random agent on each attempt.
	SelectRandom
)

// Config configures a Client.
type Config struct {
	Agents     []string
	TimeoutMS  int
	RetryTimes int
	Select     SelectMode
}

// Client is a retrying UDP requester against a pool of agents.
type Client struct {
	cfg    Config
	rng    *rand.Rand
	rrNext uint64
	conn   *net.UDPConn
	Metrics
}

// New creates a Client bound to an ephemeral local UDP port.
func New(cfg Config) (*Client, error) {
	if len(cfg.Agents) == 0 {
		return nil, errors.New("client: no agents configured")
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = 500
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(err, "client: listen")
	}
	seed, err := uuid.NewRandom()
	seedInt := time.Now().UnixNano()
	if err == nil {
		seedInt = int64(binaryHash(seed))
	}
	return &Client{cfg: cfg, rng: rand.New(rand.NewSource(seedInt)), conn: conn}, nil
}

func binaryHash(id uuid.UUID) uint64 {
	var h uint64
	for _, b := range id {
		h = h*31 + uint64(b)
	}
	return h
}

func (c *Client) pickAgent(attempt int, excluded map[string]bool) string {
	candidates := c.cfg.Agents
	if len(excluded) > 0 && len(excluded) < len(candidates) {
		filtered := make([]string, 0, len(candidates))
		for _, a := range candidates {
			if !excluded[a] {
				filtered = append(filtered, a)
			}
		}
		candidates = filtered
	}
	switch c.cfg.Select {
	case SelectRandom:
		return candidates[c.rng.Intn(len(candidates))]
	default:
		i := atomic.AddUint64(&c.rrNext, 1) - 1
		return candidates[i%uint64(len(candidates))]
	}
}

// Do sends req and waits up to TimeoutMS for a reply whose echo
// matches, retrying up to RetryTimes against a different agent on
// error or timeout.
func (c *Client) Do(ctx context.Context, addr string, req wire.Frame) (wire.Frame, error) {
	if addr != "" {
		return c.doOnce(ctx, addr, req)
	}

	excluded := map[string]bool{}
	var lastErr error
	attempts := c.cfg.RetryTimes + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		target := c.pickAgent(attempt, excluded)
		excluded[target] = true

		resp, err := c.doOnce(ctx, target, req)
		atomic.AddUint64(&c.Requests, 1)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt < attempts-1 {
			atomic.AddUint64(&c.Retries, 1)
		}
		if isTimeout(err) {
			atomic.AddUint64(&c.Timeouts, 1)
		} else {
			atomic.AddUint64(&c.OtherErrors, 1)
		}
	}
	return wire.Frame{}, lastErr
}

func (c *Client) doOnce(ctx context.Context, addr string, req wire.Frame) (wire.Frame, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return wire.Frame{}, errors.Wrapf(err, "client: resolve %s", addr)
	}

	deadline := time.Now().Add(time.Duration(c.cfg.TimeoutMS) * time.Millisecond)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	if _, err := c.conn.WriteToUDP(wire.Encode(req), raddr); err != nil {
		return wire.Frame{}, errors.Wrap(err, "client: send")
	}

	buf := make([]byte, wire.Size)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return wire.Frame{}, err
		}
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return wire.Frame{}, timeoutError{}
			}
			return wire.Frame{}, errors.Wrap(err, "client: receive")
		}
		if from.String() != raddr.String() {
			continue // wrong source address; keep waiting until the deadline
		}
		resp, ok := wire.Decode(buf[:n])
		if !ok {
			continue // magic/size/version mismatch; drop and keep waiting
		}
		if resp.Echo != req.Echo {
			continue // stale reply for a previous request; reject and keep waiting
		}
		return resp, nil
	}
}

type timeoutError struct{}

func (timeoutError) Error() string { return "client: request timed out" }
func (timeoutError) Timeout() bool { return true }

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

// Close releases the client's UDP socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
