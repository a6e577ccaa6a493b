// Package room composes the synchronization components for the room that is
// currently open: history, real-time transport, typing presence, read
// receipts and scroll anchoring.
package room

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/engly817chat/engly-client/internal/client/credentials"
	"github.com/engly817chat/engly-client/internal/client/pagination"
	"github.com/engly817chat/engly-client/internal/client/presence"
	"github.com/engly817chat/engly-client/internal/client/realtime"
	"github.com/engly817chat/engly-client/internal/client/receipts"
	"github.com/engly817chat/engly-client/internal/client/scroll"
	"github.com/engly817chat/engly-client/internal/core"
	englylog "github.com/engly817chat/engly-client/internal/log"
	"github.com/engly817chat/engly-client/internal/proto"
)

const (
	teardownTimeout = 2 * time.Second
	visibleBuffer   = 256
)

// API is the REST surface a room needs.
type API interface {
	pagination.Fetcher
	receipts.ReaderFetcher
}

// Options configures a View.
type Options struct {
	Self   credentials.Identity
	Tokens credentials.TokenSource
	WSURL  string

	PageSize          int
	ReconnectDelay    time.Duration
	MaxReconnects     int
	HeartbeatInterval time.Duration
	TypingIdle        time.Duration
	ReadFlushDelay    time.Duration

	// Surface is optional. Without one the initial load stops after the newest
	// page and older pages are requested with LoadPrevious.
	Surface    scroll.Surface
	Visibility scroll.VisibilityObserver
	// NearTop and NearBottom are in surface units; zero uses the scroll defaults.
	NearTop    int
	NearBottom int

	OnStateChange func(roomID string, state core.ConnState)
	OnTyping      func(roomID string, usernames []string)
	OnReaders     func(messageID string, readers []core.Reader)

	Clock      clock.Clock
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// View owns the components of the open room. At most one room is open.
type View struct {
	api  API
	opts Options
	log  *zerolog.Logger

	mu  sync.Mutex
	cur *active
}

type active struct {
	id       string
	ctrl     *pagination.Controller
	session  *realtime.Session
	presence *presence.Coordinator
	receipts *receipts.Tracker
	anchor   *scroll.Anchor

	cancel  context.CancelFunc
	workers *errgroup.Group
	visible chan string
}

// New creates a view with no open room.
func New(api API, opts Options) *View {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := englylog.OrNop(opts.Logger).With().Str("component", "room").Logger()
	opts.Logger = &logger
	return &View{api: api, opts: opts, log: &logger}
}

// Open closes the current room, if any, then opens roomID: the transport is
// activated and the initial history walk runs. The returned error is the
// history error; transport failures are retried in the background.
func (v *View) Open(ctx context.Context, roomID string) error {
	if roomID == "" {
		return core.NewError(core.ErrCodeBadRequest, "room id is required")
	}

	v.mu.Lock()
	prev := v.cur
	v.cur = nil
	v.mu.Unlock()
	if prev != nil {
		v.teardown(prev)
	}

	a := v.build(ctx, roomID)

	v.mu.Lock()
	v.cur = a
	v.mu.Unlock()

	v.log.Info().Str("room_id", roomID).Msg("opening room")
	if err := a.session.Start(ctx); err != nil {
		return err
	}
	return a.ctrl.LoadInitial(ctx)
}

func (v *View) build(ctx context.Context, roomID string) *active {
	rctx, cancel := context.WithCancel(ctx)
	workers, wctx := errgroup.WithContext(rctx)
	a := &active{
		id:      roomID,
		cancel:  cancel,
		workers: workers,
		visible: make(chan string, visibleBuffer),
	}
	o := v.opts

	a.ctrl = pagination.New(roomID, v.api, pagination.Options{PageSize: o.PageSize, Logger: o.Logger})
	a.session = realtime.New(roomID, &dispatcher{room: a}, realtime.Options{
		URL:               o.WSURL,
		Tokens:            o.Tokens,
		ReconnectDelay:    o.ReconnectDelay,
		MaxReconnects:     o.MaxReconnects,
		HeartbeatInterval: o.HeartbeatInterval,
		OnStateChange: func(st core.ConnState) {
			if o.OnStateChange != nil {
				o.OnStateChange(roomID, st)
			}
		},
		Clock:      o.Clock,
		HTTPClient: o.HTTPClient,
		Logger:     o.Logger,
	})
	a.presence = presence.New(roomID, a.session, presence.Options{
		Self:        o.Self.Username,
		IdleTimeout: o.TypingIdle,
		OnChange: func(users []string) {
			if o.OnTyping != nil {
				o.OnTyping(roomID, users)
			}
		},
		Clock:  o.Clock,
		Logger: o.Logger,
	})
	a.receipts = receipts.New(roomID, a.ctrl, v.api, a.session, receipts.Options{
		SelfID:     o.Self.UserID,
		FlushDelay: o.ReadFlushDelay,
		OnReaders:  o.OnReaders,
		Clock:      o.Clock,
		Logger:     o.Logger,
	})

	if o.Surface != nil {
		a.anchor = scroll.New(o.Surface, a.ctrl, scroll.Options{
			NearTop:    o.NearTop,
			NearBottom: o.NearBottom,
			Visibility: o.Visibility,
			OnVisible: func(id string) {
				select {
				case a.visible <- id:
				case <-wctx.Done():
				}
			},
			Logger: o.Logger,
		})
		a.ctrl.AddObserver(a.anchor)
		a.ctrl.SetProbe(a.anchor)
	}

	// Visibility callbacks fire inside list mutations; reader fetches run here.
	workers.Go(func() error {
		for {
			select {
			case <-wctx.Done():
				return nil
			case id := <-a.visible:
				_ = a.receipts.Visible(wctx, id)
			}
		}
	})
	return a
}

func (v *View) teardown(a *active) {
	v.log.Info().Str("room_id", a.id).Msg("closing room")

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	_ = a.receipts.Flush(ctx)

	a.ctrl.Close()
	a.presence.Close()
	a.receipts.Close()
	_ = a.session.Close()
	a.cancel()
	_ = a.workers.Wait()
}

func (v *View) current() (*active, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cur == nil {
		return nil, core.ErrClosed
	}
	return v.cur, nil
}

// Send publishes content to the open room. Blank content is rejected.
func (v *View) Send(ctx context.Context, content string) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return core.ErrEmptyMessage
	}
	a, err := v.current()
	if err != nil {
		return err
	}
	if err := a.session.Send(ctx, proto.DestinationMessageSend, proto.SendMessageBody{RoomID: a.id, Content: text}); err != nil {
		return err
	}
	a.presence.Stop(ctx)
	return nil
}

// Keystroke signals local typing.
func (v *View) Keystroke(ctx context.Context) {
	if a, err := v.current(); err == nil {
		a.presence.Keystroke(ctx)
	}
}

// Scrolled forwards a scroll event to the anchor.
func (v *View) Scrolled(ctx context.Context) error {
	a, err := v.current()
	if err != nil {
		return err
	}
	if a.anchor == nil {
		return nil
	}
	return a.anchor.Scrolled(ctx)
}

// LoadPrevious requests the page before the oldest loaded one, or retries the
// initial load when it failed.
func (v *View) LoadPrevious(ctx context.Context) error {
	a, err := v.current()
	if err != nil {
		return err
	}
	return a.ctrl.LoadPrevious(ctx)
}

// Visible reports that a message entered the viewport.
func (v *View) Visible(ctx context.Context, messageID string) error {
	a, err := v.current()
	if err != nil {
		return err
	}
	return a.receipts.Visible(ctx, messageID)
}

// FlushReceipts sends pending read acknowledgements now.
func (v *View) FlushReceipts(ctx context.Context) error {
	a, err := v.current()
	if err != nil {
		return err
	}
	return a.receipts.Flush(ctx)
}

// RoomID returns the open room, or "".
func (v *View) RoomID() string {
	if a, err := v.current(); err == nil {
		return a.id
	}
	return ""
}

// Messages returns the loaded history of the open room.
func (v *View) Messages() []core.Message {
	if a, err := v.current(); err == nil {
		return a.ctrl.Messages()
	}
	return nil
}

// HasMore reports whether older history remains.
func (v *View) HasMore() bool {
	if a, err := v.current(); err == nil {
		return a.ctrl.HasMore()
	}
	return false
}

// Typing returns the remote users typing in the open room.
func (v *View) Typing() []string {
	if a, err := v.current(); err == nil {
		return a.presence.Typing()
	}
	return nil
}

// Readers returns the cached readers of one of the user's messages.
func (v *View) Readers(messageID string) []core.Reader {
	if a, err := v.current(); err == nil {
		return a.receipts.Readers(messageID)
	}
	return nil
}

// State returns the transport state of the open room.
func (v *View) State() core.ConnState {
	if a, err := v.current(); err == nil {
		return a.session.State()
	}
	return core.Disconnected
}

// Close closes the open room.
func (v *View) Close() error {
	v.mu.Lock()
	a := v.cur
	v.cur = nil
	v.mu.Unlock()
	if a != nil {
		v.teardown(a)
	}
	return nil
}

// dispatcher routes one room's inbound events. Events for other rooms are
// dropped.
type dispatcher struct {
	room *active
}

func (d *dispatcher) OnMessage(msg core.Message) {
	if msg.RoomID != d.room.id {
		return
	}
	d.room.ctrl.Append(msg)
}

func (d *dispatcher) OnTyping(ev core.TypingEvent) {
	d.room.presence.Apply(ev)
}

func (d *dispatcher) OnRead(ev core.ReadEvent) {
	d.room.receipts.Apply(ev)
}
