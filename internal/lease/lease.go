// Package lease implements the agent's side of the label lease
// protocol: periodic fire-and-forget renewal, expiry detection, and
// synchronous acquisition at startup.
package lease

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"

	"github.com/zfair/uniqd/errcode"
	"github.com/zfair/uniqd/wire"
)

// LabelSource is the slice of seqstore.Store that the lease client
// needs: the persisted label and its last-renewal timestamp.
type LabelSource interface {
	Label() uint8
	SetLabel(label uint8) error
	LastRenewalTime() int64
	SetLastRenewalTime(unixSeconds int64) error
}

// Sender fires a frame at a master, fire-and-forget. The dispatcher's
// UDP socket implements this.
type Sender interface {
	SendTo(addr string, f wire.Frame) error
}

// Requester performs a bounded request/response round trip, used only
// for the synchronous acquisition path. The client package's Client
// implements this against an agent; the same shape works unchanged
// against a master, since both speak the wire protocol.
type Requester interface {
	Do(ctx context.Context, addr string, req wire.Frame) (wire.Frame, error)
}

// SelectFunc picks a master address given the current label.
type SelectFunc func(masters []string, label uint8) string

// SelectRoundRobin cycles through masters with an atomic counter, so
// it stays correct if ever called from more than one goroutine, even
// though the dispatcher that drives renewal today is single-threaded
// and never actually contends on it. The order masters are visited in
// under real concurrent use is otherwise unspecified.
var rrCounter uint64

// echoCounter supplies the monotonic echo for the synchronous
// acquisition path below, whose replies are matched by echo.
// Fire-and-forget renewals in MaybeRenew use the send time instead.
var echoCounter uint64

func SelectRoundRobin(masters []string, _ uint8) string {
	if len(masters) == 0 {
		return ""
	}
	i := atomic.AddUint64(&rrCounter, 1)
	return masters[i%uint64(len(masters))]
}

// SelectHashed sticks to one master per label by hashing the label
// with murmur3, so renewals for a given label tend to land on the same
// master without imposing a global ordering across labels.
func SelectHashed(masters []string, label uint8) string {
	if len(masters) == 0 {
		return ""
	}
	h := murmur3.Sum32([]byte{label})
	return masters[h%uint32(len(masters))]
}

// Client drives label renewal and expiry for one agent.
type Client struct {
	store   LabelSource
	masters []string
	sender  Sender
	req     Requester
	selectFn SelectFunc

	expire   time.Duration
	interval time.Duration

	lastRentSend int64 // unix seconds, volatile, dispatcher-only
}

// New creates a lease Client. selectFn defaults to SelectRoundRobin
// when nil.
func New(store LabelSource, masters []string, sender Sender, req Requester, expire, interval time.Duration, selectFn SelectFunc) *Client {
	if selectFn == nil {
		selectFn = SelectRoundRobin
	}
	return &Client{
		store:    store,
		masters:  masters,
		sender:   sender,
		req:      req,
		selectFn: selectFn,
		expire:   expire,
		interval: interval,
	}
}

// Expired reports whether now - block.timestamp > expire.
func (c *Client) Expired(now time.Time) bool {
	return now.Unix()-c.store.LastRenewalTime() > int64(c.expire/time.Second)
}

// MaybeRenew sends a fire-and-forget REQUEST_LABEL if at least one
// master is configured and interval seconds have passed since the
// last renewal attempt. Called once per dispatcher iteration.
func (c *Client) MaybeRenew(now time.Time) {
	if len(c.masters) == 0 {
		return
	}
	if now.Unix()-atomic.LoadInt64(&c.lastRentSend) <= int64(c.interval/time.Second) {
		return
	}
	atomic.StoreInt64(&c.lastRentSend, now.Unix())

	addr := c.selectFn(c.masters, c.store.Label())
	value1 := uint32(c.store.Label())
	f := wire.Frame{
		MajorVer: wire.MajorVersion,
		MinorVer: wire.MinorVersion,
		Type:     wire.RequestLabel,
		Echo:     uint32(now.Unix()),
		Value1:   value1,
	}
	_ = c.sender.SendTo(addr, f) // fire-and-forget; failures are logged by the caller
}

// OnRenewalResponse applies a RESPONSE_LABEL received asynchronously
// from a master: update the persisted label (rewriting the block only
// if it changed) and refresh the renewal timestamp.
func (c *Client) OnRenewalResponse(f wire.Frame, now time.Time) error {
	newLabel := uint8(f.Value1)
	if newLabel != c.store.Label() {
		if err := c.store.SetLabel(newLabel); err != nil {
			return err
		}
	}
	return c.store.SetLastRenewalTime(now.Unix())
}

// ClearLabel drops the cached label after a LABEL_NOT_HOLD response.
func (c *Client) ClearLabel() error {
	return c.store.SetLabel(0)
}

// Acquire performs the synchronous acquisition used at first start and
// on restart with an expired label: request a label, wait up to 2s
// for a matching response, retry once on LABEL_NOT_HOLD after clearing
// the cached label. Any other error — a timeout, a malformed
// response, or any RESPONSE_ERROR other than LABEL_NOT_HOLD — is fatal
// to startup on the first attempt; only LABEL_NOT_HOLD gets retried.
func (c *Client) Acquire(ctx context.Context) (uint8, error) {
	if len(c.masters) == 0 {
		return 0, errcode.ErrNoMaster
	}

	for attempt := 0; attempt < 2; attempt++ {
		addr := c.selectFn(c.masters, c.store.Label())
		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		resp, err := c.req.Do(reqCtx, addr, wire.Frame{
			MajorVer: wire.MajorVersion,
			MinorVer: wire.MinorVersion,
			Type:     wire.RequestLabel,
			Echo:     uint32(atomic.AddUint64(&echoCounter, 1)),
			Value1:   uint32(c.store.Label()),
		})
		cancel()
		if err != nil {
			return 0, errors.Wrap(err, "lease: synchronous acquisition failed")
		}

		if resp.Type == wire.ResponseError && resp.Value1 == errcode.LabelNotHold {
			if err := c.ClearLabel(); err != nil {
				return 0, err
			}
			continue
		}
		if resp.Type != wire.ResponseLabel {
			return 0, errors.Errorf("lease: unexpected response type %d", resp.Type)
		}

		label := uint8(resp.Value1)
		if err := c.store.SetLabel(label); err != nil {
			return 0, err
		}
		if err := c.store.SetLastRenewalTime(time.Now().Unix()); err != nil {
			return 0, err
		}
		return label, nil
	}
	return 0, errcode.ErrAcquireTimeout
}
