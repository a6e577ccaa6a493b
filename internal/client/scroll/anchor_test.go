package scroll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/engly817chat/engly-client/internal/client/pagination"
	"github.com/engly817chat/engly-client/internal/core"
)

const rowHeight = 20

// fakeSurface renders one fixed-height row per message.
type fakeSurface struct {
	mu     sync.Mutex
	items  []core.Message
	top    int
	client int
}

func (s *fakeSurface) Render(items []core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

func (s *fakeSurface) ScrollMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{ScrollTop: s.top, ScrollHeight: len(s.items) * rowHeight, ClientHeight: s.client}
}

func (s *fakeSurface) SetScrollTop(top int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxTop := max(0, len(s.items)*rowHeight-s.client)
	s.top = min(max(0, top), maxTop)
}

func (s *fakeSurface) scrollTop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.top
}

type pagedFetcher struct {
	messages []core.Message
	err      error
}

func (f *pagedFetcher) FetchPage(_ context.Context, _ string, page, size int) (core.Page, error) {
	if f.err != nil {
		return core.Page{}, f.err
	}
	n := len(f.messages)
	start := min(page*size, n)
	end := min(start+size, n)
	return core.Page{
		Items:         append([]core.Message(nil), f.messages[start:end]...),
		PageIndex:     page,
		IsFirst:       page == 0,
		IsLast:        end >= n,
		TotalElements: n,
	}, nil
}

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func makeMessages(n int) []core.Message {
	out := make([]core.Message, n)
	for i := range out {
		out[i] = core.Message{ID: fmt.Sprintf("m%03d", i), RoomID: "r1", CreatedAt: base.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func wire(t *testing.T, n, rows int, opts Options) (*pagination.Controller, *Anchor, *fakeSurface) {
	t.Helper()
	surface := &fakeSurface{client: rows * rowHeight}
	ctrl := pagination.New("r1", &pagedFetcher{messages: makeMessages(n)}, pagination.Options{PageSize: 30})
	anchor := New(surface, ctrl, opts)
	ctrl.AddObserver(anchor)
	ctrl.SetProbe(anchor)
	return ctrl, anchor, surface
}

func TestBackfillStopsOnOverflowAndPinsBottom(t *testing.T) {
	ctrl, _, surface := wire(t, 65, 10, Options{})

	if err := ctrl.LoadInitial(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	// Page 2 holds 5 messages (100px < 200px), page 1 overflows.
	if ctrl.Len() != 35 || ctrl.Page() != 1 || !ctrl.HasMore() {
		t.Fatalf("len=%d page=%d hasMore=%v", ctrl.Len(), ctrl.Page(), ctrl.HasMore())
	}
	if got, want := surface.scrollTop(), 35*rowHeight-10*rowHeight; got != want {
		t.Fatalf("scrollTop = %d, want %d", got, want)
	}
}

func TestPrependPreservesViewport(t *testing.T) {
	ctrl, anchor, surface := wire(t, 65, 10, Options{})
	ctx := context.Background()
	if err := ctrl.LoadInitial(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	surface.SetScrollTop(10)
	if err := anchor.Scrolled(ctx); err != nil {
		t.Fatalf("scrolled: %v", err)
	}
	if ctrl.Page() != 0 || ctrl.HasMore() {
		t.Fatalf("expected page 0 loaded, page=%d", ctrl.Page())
	}
	if got, want := surface.scrollTop(), 10+30*rowHeight; got != want {
		t.Fatalf("scrollTop = %d, want %d", got, want)
	}

	// Terminal: nothing left to load.
	surface.SetScrollTop(0)
	if err := anchor.Scrolled(ctx); err != nil || ctrl.Len() != 65 {
		t.Fatalf("terminal scroll: len=%d err=%v", ctrl.Len(), err)
	}
}

func TestScrolledAwayFromTopDoesNothing(t *testing.T) {
	ctrl, anchor, surface := wire(t, 65, 10, Options{})
	ctx := context.Background()
	if err := ctrl.LoadInitial(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	surface.SetScrollTop(DefaultNearTop)
	if err := anchor.Scrolled(ctx); err != nil {
		t.Fatalf("scrolled: %v", err)
	}
	if ctrl.Page() != 1 {
		t.Fatal("scroll outside the near-top zone must not load")
	}
}

func TestAppendAutoScrollsOnlyNearBottom(t *testing.T) {
	ctrl, anchor, surface := wire(t, 40, 10, Options{})
	if err := ctrl.LoadInitial(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !anchor.NearBottom() {
		t.Fatal("backfill should leave the view at the bottom")
	}

	next := core.Message{ID: "live1", RoomID: "r1", CreatedAt: base.Add(time.Hour)}
	ctrl.Append(next)
	m := surface.ScrollMetrics()
	if m.DistanceFromBottom() != 0 {
		t.Fatalf("near-bottom append should pin to bottom, distance=%d", m.DistanceFromBottom())
	}

	surface.SetScrollTop(0)
	next.ID, next.CreatedAt = "live2", next.CreatedAt.Add(time.Second)
	ctrl.Append(next)
	if surface.scrollTop() != 0 {
		t.Fatalf("append while reading history must not move the view, top=%d", surface.scrollTop())
	}
}

type fakeVisibility struct{}

func (v *fakeVisibility) Observe(ids []string, visible func(string)) {
	for _, id := range ids {
		visible(id)
	}
}

func TestMergedMessagesAreObserved(t *testing.T) {
	vis := &fakeVisibility{}
	var visible []string
	ctrl, _, _ := wire(t, 3, 10, Options{Visibility: vis, OnVisible: func(id string) { visible = append(visible, id) }})
	if err := ctrl.LoadInitial(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctrl.Append(core.Message{ID: "live", RoomID: "r1", CreatedAt: base.Add(time.Hour)})
	if len(visible) != 4 || visible[3] != "live" {
		t.Fatalf("visible = %v", visible)
	}
}

func TestOverflows(t *testing.T) {
	s := &fakeSurface{client: 100}
	a := New(s, nil, Options{})
	s.Render(makeMessages(5))
	if a.Overflows() {
		t.Fatal("5 rows fit in 100px")
	}
	s.Render(makeMessages(6))
	if !a.Overflows() {
		t.Fatal("6 rows overflow 100px")
	}
}

func TestScrolledRetriesFailedInitialLoad(t *testing.T) {
	fetcher := &pagedFetcher{messages: makeMessages(3), err: errors.New("offline")}
	surface := &fakeSurface{client: 10 * rowHeight}
	ctrl := pagination.New("r1", fetcher, pagination.Options{PageSize: 30})
	anchor := New(surface, ctrl, Options{})
	ctrl.AddObserver(anchor)
	ctrl.SetProbe(anchor)
	ctx := context.Background()

	if err := ctrl.LoadInitial(ctx); err == nil {
		t.Fatal("expected the initial load to fail")
	}

	fetcher.err = nil
	if err := anchor.Scrolled(ctx); err != nil {
		t.Fatalf("scrolled: %v", err)
	}
	if ctrl.State() != pagination.StateReady || ctrl.Len() != 3 {
		t.Fatalf("state=%v len=%d", ctrl.State(), ctrl.Len())
	}
}
