// Package pagination owns a room's in-memory message history. It loads pages
// backward from the REST history endpoint and merges real-time pushes, keeping
// one deduplicated, chronologically ordered list.
package pagination

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/engly817chat/engly-client/internal/core"
	englylog "github.com/engly817chat/engly-client/internal/log"
)

// DefaultPageSize matches the history page size used by the chat UI.
const DefaultPageSize = 30

// Fetcher loads one page of a room's history.
type Fetcher interface {
	FetchPage(ctx context.Context, roomID string, page, size int) (core.Page, error)
}

// State is the load lifecycle of a controller.
type State int

const (
	// StateInitialLoading is the initial state, held until the backfill walk ends.
	StateInitialLoading State = iota
	// StateReady accepts LoadOlder requests.
	StateReady
	// StateLoadingOlder rejects further LoadOlder requests until the fetch resolves.
	StateLoadingOlder
)

func (s State) String() string {
	switch s {
	case StateInitialLoading:
		return "initial_loading"
	case StateReady:
		return "ready"
	case StateLoadingOlder:
		return "loading_older"
	default:
		return "unknown"
	}
}

// ChangeKind says how the list was mutated.
type ChangeKind int

const (
	// ChangeBackfill is a page merged during the initial walk.
	ChangeBackfill ChangeKind = iota
	// ChangePrepend is an older page merged by LoadOlder.
	ChangePrepend
	// ChangeAppend is a single real-time message.
	ChangeAppend
)

// Change describes one mutation. Items is the full list after the mutation.
type Change struct {
	Kind  ChangeKind
	Added []core.Message
	Items []core.Message
}

// Observer is told about every mutation. WillChange runs before the list is
// modified, DidChange after. Calls are serialized. Observers may read from the
// controller but must not mutate it from inside a callback.
type Observer interface {
	WillChange(kind ChangeKind)
	DidChange(change Change)
}

// Probe reports whether the rendered list already overflows the viewport.
// The backfill walk stops as soon as it does.
type Probe interface {
	Overflows() bool
}

// Options configures a Controller.
type Options struct {
	PageSize int
	Logger   *zerolog.Logger
}

// Controller serves one room's history as a single ordered sequence.
type Controller struct {
	roomID   string
	fetcher  Fetcher
	pageSize int
	log      *zerolog.Logger

	// mutateMu serializes mutation plus observer notification.
	mutateMu sync.Mutex

	mu             sync.Mutex
	store          *Store
	state          State
	page           int
	hasMore        bool
	initialRunning bool
	epoch          uint64
	closed         bool
	observers      []Observer
	probe          Probe
}

// New creates a controller for roomID.
func New(roomID string, fetcher Fetcher, opts Options) *Controller {
	size := opts.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	logger := englylog.OrNop(opts.Logger).With().Str("component", "pagination").Str("room_id", roomID).Logger()
	return &Controller{
		roomID:   roomID,
		fetcher:  fetcher,
		pageSize: size,
		log:      &logger,
		store:    NewStore(),
		state:    StateInitialLoading,
		hasMore:  true,
	}
}

// AddObserver registers o for mutation notifications.
func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// SetProbe sets the viewport probe consulted during the backfill walk.
// Without a probe the walk stops after the newest page.
func (c *Controller) SetProbe(p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probe = p
}

// RoomID returns the room this controller is bound to.
func (c *Controller) RoomID() string { return c.roomID }

// PageSize returns the history page size. It shrinks to the server's limit
// when the server applies a smaller size than requested.
func (c *Controller) PageSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageSize
}

// LoadInitial runs the backfill walk: probe the message count, then fetch pages
// newest-first until the viewport overflows or page 0 is reached.
// It is a no-op once the controller has left StateInitialLoading.
func (c *Controller) LoadInitial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrClosed
	}
	if c.state != StateInitialLoading || c.initialRunning {
		c.mu.Unlock()
		return nil
	}
	c.initialRunning = true
	epoch := c.epoch
	c.mu.Unlock()

	stopped, err := c.backfill(ctx, epoch)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialRunning = false
	if err != nil {
		return err
	}
	if c.epoch != epoch {
		return core.ErrStaleRoom
	}
	c.page = stopped
	c.hasMore = stopped > 0
	c.state = StateReady
	c.log.Debug().Int("page", stopped).Bool("has_more", c.hasMore).Int("messages", c.store.Len()).Msg("initial load finished")
	return nil
}

func (c *Controller) backfill(ctx context.Context, epoch uint64) (int, error) {
	meta, err := c.fetch(ctx, epoch, 0, 1)
	if err != nil {
		return 0, err
	}

	total := meta.TotalElements
	if total <= 0 {
		c.commit(epoch, ChangeBackfill, nil)
		return 0, nil
	}

	size := c.PageSize()
	current := lastPage(total, size)
	for {
		page, err := c.fetch(ctx, epoch, current, size)
		if err != nil {
			return 0, err
		}
		if page.Size > 0 && page.Size < size {
			// Offsets were computed for the wrong size; restart from the newest page.
			c.log.Info().Int("requested", size).Int("applied", page.Size).Msg("adopting server page size")
			size = page.Size
			c.mu.Lock()
			c.pageSize = size
			c.mu.Unlock()
			current = lastPage(total, size)
			continue
		}
		if !c.commit(epoch, ChangeBackfill, page.Items) {
			return 0, core.ErrStaleRoom
		}
		if current == 0 || page.IsFirst {
			return current, nil
		}

		c.mu.Lock()
		probe := c.probe
		c.mu.Unlock()
		if probe == nil || probe.Overflows() {
			return current, nil
		}
		current--
	}
}

func lastPage(total, size int) int {
	return (total+size-1)/size - 1
}

// LoadOlder fetches pageIndex and prepends the messages not already present.
// It is a no-op unless the controller is ready and has more history, so
// overlapping requests from rapid scroll events collapse into one fetch.
// On failure the store is unchanged and the same page may be retried.
func (c *Controller) LoadOlder(ctx context.Context, pageIndex int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrClosed
	}
	if c.state != StateReady || !c.hasMore || pageIndex < 0 {
		c.mu.Unlock()
		return nil
	}
	c.state = StateLoadingOlder
	epoch := c.epoch
	size := c.pageSize
	c.mu.Unlock()

	page, err := c.fetch(ctx, epoch, pageIndex, size)
	if err == nil && !c.commit(epoch, ChangePrepend, page.Items) {
		err = core.ErrStaleRoom
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return core.ErrStaleRoom
	}
	c.state = StateReady
	if err != nil {
		return err
	}
	c.page = pageIndex
	c.hasMore = pageIndex > 0 && !page.IsFirst
	return nil
}

// LoadPrevious loads the page before the oldest loaded one. While the initial
// walk has not completed it retries LoadInitial instead.
func (c *Controller) LoadPrevious(ctx context.Context) error {
	c.mu.Lock()
	initial := c.state == StateInitialLoading
	next := c.page - 1
	c.mu.Unlock()
	if initial {
		return c.LoadInitial(ctx)
	}
	return c.LoadOlder(ctx, next)
}

// Append inserts a real-time message. Duplicates and messages for other rooms
// are ignored; it reports whether the list changed.
func (c *Controller) Append(msg core.Message) bool {
	if msg.RoomID != "" && msg.RoomID != c.roomID {
		return false
	}

	c.mutateMu.Lock()
	defer c.mutateMu.Unlock()

	c.mu.Lock()
	if c.closed || msg.ID == "" || c.store.Has(msg.ID) {
		c.mu.Unlock()
		return false
	}
	observers := c.observers
	c.mu.Unlock()

	for _, o := range observers {
		o.WillChange(ChangeAppend)
	}

	c.mu.Lock()
	if c.closed || !c.store.Insert(msg) {
		c.mu.Unlock()
		return false
	}
	change := Change{Kind: ChangeAppend, Added: []core.Message{msg}, Items: c.store.Items()}
	c.mu.Unlock()

	for _, o := range observers {
		o.DidChange(change)
	}
	return true
}

// commit merges items if epoch is still current and notifies observers.
// It returns false for stale results.
func (c *Controller) commit(epoch uint64, kind ChangeKind, items []core.Message) bool {
	c.mutateMu.Lock()
	defer c.mutateMu.Unlock()

	c.mu.Lock()
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		return false
	}
	observers := c.observers
	c.mu.Unlock()

	for _, o := range observers {
		o.WillChange(kind)
	}

	c.mu.Lock()
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		return false
	}
	added := c.store.Merge(items)
	change := Change{Kind: kind, Added: added, Items: c.store.Items()}
	c.mu.Unlock()

	for _, o := range observers {
		o.DidChange(change)
	}
	return true
}

func (c *Controller) fetch(ctx context.Context, epoch uint64, page, size int) (core.Page, error) {
	res, err := c.fetcher.FetchPage(ctx, c.roomID, page, size)
	if err != nil {
		c.log.Warn().Err(err).Int("page", page).Msg("history fetch failed")
		return core.Page{}, &core.PageLoadError{RoomID: c.roomID, Page: page, Err: err}
	}

	c.mu.Lock()
	stale := c.epoch != epoch || c.closed
	c.mu.Unlock()
	if stale {
		c.log.Debug().Int("page", page).Msg("discarding page for closed room")
		return core.Page{}, core.ErrStaleRoom
	}

	items := res.Items[:0:0]
	for _, m := range res.Items {
		if m.RoomID == "" {
			m.RoomID = c.roomID
		}
		if m.RoomID != c.roomID {
			continue
		}
		items = append(items, m)
	}
	res.Items = items
	return res, nil
}

// Close detaches the controller from its room. In-flight fetches that resolve
// afterward are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.epoch++
}

// Messages returns a copy of the ordered list.
func (c *Controller) Messages() []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Items()
}

// Message returns the message with id.
func (c *Controller) Message(id string) (core.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(id)
}

// Len returns the number of loaded messages.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// State returns the current load state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Page returns the index of the oldest loaded page.
func (c *Controller) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// HasMore reports whether older pages remain.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}
