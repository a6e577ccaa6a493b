// Package presence tracks who is typing in a room and debounces the local
// user's own typing signal.
package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/engly817chat/engly-client/internal/core"
	englylog "github.com/engly817chat/engly-client/internal/log"
	"github.com/engly817chat/engly-client/internal/proto"
)

// DefaultIdleTimeout is how long after the last keystroke typing stops.
const DefaultIdleTimeout = 2 * time.Second

// Publisher sends a body to a server destination.
type Publisher interface {
	Send(ctx context.Context, destination string, body any) error
}

// Options configures a Coordinator.
type Options struct {
	// Self is the local username; remote events about it are ignored.
	Self        string
	IdleTimeout time.Duration
	// OnChange receives the typing list after each change.
	OnChange func(usernames []string)
	Clock    clock.Clock
	Logger   *zerolog.Logger
}

// Coordinator is the typing state of one room.
type Coordinator struct {
	roomID string
	pub    Publisher
	opts   Options
	clock  clock.Clock
	log    *zerolog.Logger

	mu     sync.Mutex
	typing bool
	timer  *clock.Timer
	gen    uint64
	remote []string
	closed bool
}

// New creates a coordinator for roomID.
func New(roomID string, pub Publisher, opts Options) *Coordinator {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := englylog.OrNop(opts.Logger).With().Str("component", "presence").Str("room_id", roomID).Logger()
	return &Coordinator{
		roomID: roomID,
		pub:    pub,
		opts:   opts,
		clock:  clk,
		log:    &logger,
	}
}

// Keystroke records local input. The first keystroke after idle publishes
// typing=true; each keystroke re-arms the idle timer, whose expiry publishes
// typing=false once.
func (c *Coordinator) Keystroke(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	started := !c.typing
	c.typing = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.opts.IdleTimeout, func() { c.expire(gen) })
	c.mu.Unlock()

	if started {
		c.publish(ctx, true)
	}
}

func (c *Coordinator) expire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || !c.typing {
		c.mu.Unlock()
		return
	}
	c.typing = false
	c.timer = nil
	c.mu.Unlock()

	c.publish(context.Background(), false)
}

func (c *Coordinator) publish(ctx context.Context, typing bool) {
	err := c.pub.Send(ctx, proto.DestinationUserTyping, proto.TypingBody{RoomID: c.roomID, IsTyping: typing})
	if err != nil {
		c.log.Debug().Err(err).Bool("typing", typing).Msg("typing signal not sent")
	}
}

// Apply folds a remote typing event into the list.
func (c *Coordinator) Apply(ev core.TypingEvent) {
	if ev.Username == "" || ev.Username == c.opts.Self {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	idx := slices.Index(c.remote, ev.Username)
	switch {
	case ev.IsTyping && idx < 0:
		c.remote = append(c.remote, ev.Username)
	case !ev.IsTyping && idx >= 0:
		c.remote = slices.Delete(c.remote, idx, idx+1)
	default:
		c.mu.Unlock()
		return
	}
	snapshot := slices.Clone(c.remote)
	c.mu.Unlock()

	if c.opts.OnChange != nil {
		c.opts.OnChange(snapshot)
	}
}

// Typing returns the remote users currently typing, in arrival order.
func (c *Coordinator) Typing() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.remote)
}

// LocalTyping reports whether the local user is marked as typing.
func (c *Coordinator) LocalTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Stop ends local typing immediately, e.g. after a message was sent.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.closed || !c.typing {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.mu.Unlock()

	c.publish(ctx, false)
}

// Reset clears all typing state without publishing.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.remote = nil
}

// Close stops the idle timer. Later calls are no-ops.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.closed = true
}

func (c *Coordinator) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	c.typing = false
}
