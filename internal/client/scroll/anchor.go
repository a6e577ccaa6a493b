// Package scroll keeps the viewport steady while history is merged into it
// and turns scroll-to-top gestures into history requests.
package scroll

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/engly817chat/engly-client/internal/client/pagination"
	"github.com/engly817chat/engly-client/internal/core"
	englylog "github.com/engly817chat/engly-client/internal/log"
)

const (
	// DefaultNearTop is the distance from the top that triggers an older-page load.
	DefaultNearTop = 50
	// DefaultNearBottom is the distance from the bottom within which appends
	// keep the view pinned to the newest message.
	DefaultNearBottom = 100
)

// Metrics describes the scroll container.
type Metrics struct {
	ScrollTop    int
	ScrollHeight int
	ClientHeight int
}

// DistanceFromBottom returns how far the viewport is from the end of content.
func (m Metrics) DistanceFromBottom() int {
	return m.ScrollHeight - m.ScrollTop - m.ClientHeight
}

// Surface is the rendering target.
type Surface interface {
	Render(items []core.Message)
	ScrollMetrics() Metrics
	SetScrollTop(top int)
}

// VisibilityObserver reports when rendered messages become visible.
// visible is called at most once per id.
type VisibilityObserver interface {
	Observe(ids []string, visible func(id string))
}

// Loader is the slice of the pagination controller the anchor drives.
type Loader interface {
	State() pagination.State
	HasMore() bool
	LoadPrevious(ctx context.Context) error
}

// Options configures an Anchor.
type Options struct {
	NearTop    int
	NearBottom int
	// Visibility and OnVisible are optional; when both are set every merged
	// message is registered for visibility reporting.
	Visibility VisibilityObserver
	OnVisible  func(id string)
	Logger     *zerolog.Logger
}

// Anchor implements pagination.Observer and pagination.Probe for one surface.
type Anchor struct {
	surface Surface
	loader  Loader
	opts    Options
	log     *zerolog.Logger

	mu          sync.Mutex
	before      Metrics
	stickBottom bool
}

var (
	_ pagination.Observer = (*Anchor)(nil)
	_ pagination.Probe    = (*Anchor)(nil)
)

// New creates an anchor for surface driving loader.
func New(surface Surface, loader Loader, opts Options) *Anchor {
	if opts.NearTop <= 0 {
		opts.NearTop = DefaultNearTop
	}
	if opts.NearBottom <= 0 {
		opts.NearBottom = DefaultNearBottom
	}
	logger := englylog.OrNop(opts.Logger).With().Str("component", "scroll").Logger()
	return &Anchor{surface: surface, loader: loader, opts: opts, log: &logger}
}

// WillChange captures the viewport before the list is mutated.
func (a *Anchor) WillChange(pagination.ChangeKind) {
	m := a.surface.ScrollMetrics()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.before = m
	a.stickBottom = m.DistanceFromBottom() < a.opts.NearBottom
}

// DidChange re-renders and restores the viewport for the kind of change.
func (a *Anchor) DidChange(ch pagination.Change) {
	a.mu.Lock()
	before := a.before
	stick := a.stickBottom
	a.mu.Unlock()

	a.surface.Render(ch.Items)

	switch ch.Kind {
	case pagination.ChangeBackfill:
		a.pinBottom()
	case pagination.ChangePrepend:
		after := a.surface.ScrollMetrics()
		a.surface.SetScrollTop(before.ScrollTop + after.ScrollHeight - before.ScrollHeight)
	case pagination.ChangeAppend:
		if stick {
			a.pinBottom()
		}
	}

	if a.opts.Visibility != nil && a.opts.OnVisible != nil && len(ch.Added) > 0 {
		ids := make([]string, 0, len(ch.Added))
		for _, m := range ch.Added {
			ids = append(ids, m.ID)
		}
		a.opts.Visibility.Observe(ids, a.opts.OnVisible)
	}
}

func (a *Anchor) pinBottom() {
	m := a.surface.ScrollMetrics()
	a.surface.SetScrollTop(max(0, m.ScrollHeight-m.ClientHeight))
}

// Overflows reports whether content is taller than the viewport.
func (a *Anchor) Overflows() bool {
	m := a.surface.ScrollMetrics()
	return m.ScrollHeight > m.ClientHeight
}

// Scrolled handles a scroll event. Near the top of a ready room with more
// history it requests the previous page; the controller drops overlapping
// requests. A room whose initial load failed retries it.
func (a *Anchor) Scrolled(ctx context.Context) error {
	m := a.surface.ScrollMetrics()
	if m.ScrollTop >= a.opts.NearTop {
		return nil
	}
	switch a.loader.State() {
	case pagination.StateInitialLoading:
		a.log.Debug().Msg("near top before history loaded, retrying initial load")
		return a.loader.LoadPrevious(ctx)
	case pagination.StateReady:
		if !a.loader.HasMore() {
			return nil
		}
	default:
		return nil
	}
	a.log.Debug().Int("scroll_top", m.ScrollTop).Msg("near top, loading older messages")
	return a.loader.LoadPrevious(ctx)
}

// NearBottom reports whether the viewport is within the auto-scroll zone.
func (a *Anchor) NearBottom() bool {
	return a.surface.ScrollMetrics().DistanceFromBottom() < a.opts.NearBottom
}
