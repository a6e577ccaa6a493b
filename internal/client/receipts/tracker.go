// Package receipts batches read acknowledgements for messages the user has
// seen and caches who has read the user's own messages.
package receipts

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

// DefaultFlushDelay is the debounce window for outbound acknowledgements.
const DefaultFlushDelay = time.Second

// MessageLookup resolves loaded messages by id.
type MessageLookup interface {
	Message(id string) (core.Message, bool)
}

// ReaderFetcher loads the reader list of a message.
type ReaderFetcher interface {
	Readers(ctx context.Context, messageID string) ([]core.Reader, error)
}

// Publisher sends a body to a server destination.
type Publisher interface {
	Send(ctx context.Context, destination string, body any) error
}

// Options configures a Tracker.
type Options struct {
	// SelfID is the local user id. Messages it authored get reader lists,
	// everything else gets acknowledged.
	SelfID     string
	FlushDelay time.Duration
	// OnReaders is called when the cached reader list of a message changes.
	OnReaders func(messageID string, readers []core.Reader)
	Clock     clock.Clock
	Logger    *zerolog.Logger
}

// Tracker handles read receipts for one room.
type Tracker struct {
	roomID  string
	lookup  MessageLookup
	fetcher ReaderFetcher
	pub     Publisher
	opts    Options
	clock   clock.Clock
	log     *zerolog.Logger

	mu      sync.Mutex
	pending []string
	queued  map[string]struct{}
	acked   map[string]struct{}
	loaded  map[string]struct{}
	readers map[string][]core.Reader
	timer   *clock.Timer
	gen     uint64
	closed  bool
}

// New creates a tracker for roomID.
func New(roomID string, lookup MessageLookup, fetcher ReaderFetcher, pub Publisher, opts Options) *Tracker {
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := englylog.OrNop(opts.Logger).With().Str("component", "receipts").Str("room_id", roomID).Logger()
	return &Tracker{
		roomID:  roomID,
		lookup:  lookup,
		fetcher: fetcher,
		pub:     pub,
		opts:    opts,
		clock:   clk,
		log:     &logger,
		queued:  make(map[string]struct{}),
		acked:   make(map[string]struct{}),
		loaded:  make(map[string]struct{}),
		readers: make(map[string][]core.Reader),
	}
}

// Visible records that message id entered the viewport. Own messages get their
// reader list fetched once; other messages are queued for a debounced
// acknowledgement.
func (t *Tracker) Visible(ctx context.Context, id string) error {
	msg, ok := t.lookup.Message(id)
	if !ok {
		return nil
	}
	if t.opts.SelfID != "" && msg.AuthorID == t.opts.SelfID {
		return t.loadReaders(ctx, id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if _, done := t.acked[id]; done {
		return nil
	}
	if _, ok := t.queued[id]; !ok {
		t.queued[id] = struct{}{}
		t.pending = append(t.pending, id)
		t.armLocked()
	}
	return nil
}

func (t *Tracker) armLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.opts.FlushDelay, func() {
		t.mu.Lock()
		current := gen == t.gen && !t.closed
		t.mu.Unlock()
		if current {
			_ = t.Flush(context.Background())
		}
	})
}

func (t *Tracker) loadReaders(ctx context.Context, id string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if _, ok := t.loaded[id]; ok {
		t.mu.Unlock()
		return nil
	}
	t.loaded[id] = struct{}{}
	t.mu.Unlock()

	fetched, err := t.fetcher.Readers(ctx, id)
	if err != nil {
		t.mu.Lock()
		delete(t.loaded, id)
		t.mu.Unlock()
		t.log.Warn().Err(err).Str("message_id", id).Msg("load readers failed")
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	list := t.readers[id]
	for _, r := range fetched {
		list = t.addReader(list, r)
	}
	t.readers[id] = list
	snapshot := slices.Clone(list)
	t.mu.Unlock()

	t.notify(id, snapshot)
	return nil
}

func (t *Tracker) addReader(list []core.Reader, r core.Reader) []core.Reader {
	if r.UserID == "" || r.UserID == t.opts.SelfID {
		return list
	}
	for i, existing := range list {
		if existing.UserID == r.UserID {
			if existing.Username == "" && r.Username != "" {
				list[i].Username = r.Username
			}
			return list
		}
	}
	return append(list, r)
}

// Flush publishes every pending id in one acknowledgement and clears the
// queue. Ids that fail to publish are forgotten so a later Visible can queue
// them again.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	ids := t.pending
	t.pending = nil
	for _, id := range ids {
		delete(t.queued, id)
		t.acked[id] = struct{}{}
	}
	t.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	err := t.pub.Send(ctx, proto.DestinationMarkAsRead, proto.MarkAsReadBody{RoomID: t.roomID, MessageIDs: ids})
	if err != nil {
		t.mu.Lock()
		for _, id := range ids {
			delete(t.acked, id)
		}
		t.mu.Unlock()
		t.log.Debug().Err(err).Int("count", len(ids)).Msg("read acknowledgement dropped")
		return err
	}
	t.log.Debug().Int("count", len(ids)).Msg("read acknowledgement sent")
	return nil
}

// Apply merges a remote read event into cached reader lists. Only messages
// whose readers were already loaded are updated.
func (t *Tracker) Apply(ev core.ReadEvent) {
	if ev.UserID == "" || ev.UserID == t.opts.SelfID {
		return
	}

	type update struct {
		id      string
		readers []core.Reader
	}
	var updates []update

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	for _, id := range ev.MessageIDs {
		if _, ok := t.loaded[id]; !ok {
			continue
		}
		before := len(t.readers[id])
		list := t.addReader(t.readers[id], core.Reader{UserID: ev.UserID, ReadAt: ev.Timestamp})
		if len(list) == before {
			continue
		}
		t.readers[id] = list
		updates = append(updates, update{id: id, readers: slices.Clone(list)})
	}
	t.mu.Unlock()

	for _, u := range updates {
		t.notify(u.id, u.readers)
	}
}

func (t *Tracker) notify(id string, readers []core.Reader) {
	if t.opts.OnReaders != nil {
		t.opts.OnReaders(id, readers)
	}
}

// Readers returns the cached readers of message id.
func (t *Tracker) Readers(id string) []core.Reader {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.readers[id])
}

// Pending returns the ids waiting for the next flush.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.pending)
}

// Close stops the flush timer and discards pending ids.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.closed = true
	t.pending = nil
	clear(t.queued)
}
