package relay

import (
	"context"
	"sync"

	"github.com/gcsewala/authbridge/internal/log"
	"golang.org/x/sync/errgroup"
)

// Notifier accepts relay requests without blocking the caller and without
// reporting their outcome.
type Notifier interface {
	Notify(req Request)
}

// Sender is the blocking half a Dispatcher drives.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// DefaultMaxInFlight bounds concurrent relay calls.
const DefaultMaxInFlight = 4

// Dispatcher runs relay calls in the background. Failures are logged and
// dropped; nothing is retried. When MaxInFlight calls are pending a new
// notification waits in a single slot, replacing any older one there, and is
// sent as soon as a call finishes. The latest transition is never dropped for
// an older one.
type Dispatcher struct {
	sender      Sender
	maxInFlight int
	ctx         context.Context
	cancel      context.CancelFunc
	group       errgroup.Group

	mu       sync.Mutex
	inFlight int
	pending  *Request
	closed   bool
}

var _ Notifier = (*Dispatcher)(nil)

// NewDispatcher starts a dispatcher bounded to maxInFlight concurrent calls.
func NewDispatcher(sender Sender, maxInFlight int) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{sender: sender, maxInFlight: maxInFlight, ctx: ctx, cancel: cancel}
}

func (d *Dispatcher) Notify(req Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		log.LogDebugWithFields("relay", "Dispatcher closed, dropping notification", map[string]any{
			"action": req.Action,
		})
		return
	}

	if d.inFlight < d.maxInFlight {
		d.inFlight++
		d.group.Go(func() error {
			d.run(req)
			return nil
		})
		return
	}

	if d.pending != nil {
		log.LogWarnWithFields("relay", "Relay saturated, superseding queued notification", map[string]any{
			"dropped": d.pending.Action,
			"action":  req.Action,
		})
	}
	d.pending = &req
}

// run sends req, then drains the pending slot until it is empty.
func (d *Dispatcher) run(req Request) {
	for {
		d.send(req)

		d.mu.Lock()
		if d.pending == nil {
			d.inFlight--
			d.mu.Unlock()
			return
		}
		req = *d.pending
		d.pending = nil
		d.mu.Unlock()
	}
}

func (d *Dispatcher) send(req Request) {
	resp, err := d.sender.Send(d.ctx, req)
	if err != nil {
		log.LogWarnWithFields("relay", "Relay call failed", map[string]any{
			"action": req.Action,
			"error":  err.Error(),
		})
		return
	}
	log.LogDebugWithFields("relay", "Relay call acknowledged", map[string]any{
		"action":  req.Action,
		"message": resp.Message,
	})
}

// Close stops accepting notifications and waits for in-flight calls and the
// queued one.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	_ = d.group.Wait()
}

// Abort drops the queued notification, cancels in-flight calls and waits for
// them to return.
func (d *Dispatcher) Abort() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
	d.cancel()
	d.Close()
}

// Discard is a Notifier that drops everything.
type Discard struct{}

func (Discard) Notify(Request) {}
