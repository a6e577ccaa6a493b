// Package term is a line-oriented terminal front end for a room view.
package term

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/engly817chat/engly-client/internal/client/scroll"
	"github.com/engly817chat/engly-client/internal/core"
)

const timeLayout = "15:04"

// Screen is a fixed-height viewport of one row per message. It implements
// scroll.Surface and scroll.VisibilityObserver; a message is visible while
// its row is inside the window.
type Screen struct {
	out    io.Writer
	outMu  sync.Mutex
	rows   int
	selfID string

	mu      sync.Mutex
	room    string
	state   core.ConnState
	items   []core.Message
	top     int
	readers map[string]int
	pending map[string]func(string)
	typing  []string
}

var (
	_ scroll.Surface            = (*Screen)(nil)
	_ scroll.VisibilityObserver = (*Screen)(nil)
)

// NewScreen creates a screen of rows lines writing to out. selfID marks the
// local user's messages, which show read counts.
func NewScreen(out io.Writer, rows int, selfID string) *Screen {
	if rows <= 0 {
		rows = 20
	}
	return &Screen{
		out:     out,
		rows:    rows,
		selfID:  selfID,
		state:   core.Disconnected,
		readers: make(map[string]int),
		pending: make(map[string]func(string)),
	}
}

// Reset clears the screen for a newly opened room.
func (s *Screen) Reset(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = roomID
	s.items = nil
	s.top = 0
	s.typing = nil
	clear(s.readers)
	clear(s.pending)
}

// Render implements scroll.Surface.
func (s *Screen) Render(items []core.Message) {
	s.mu.Lock()
	prevLast := ""
	if n := len(s.items); n > 0 {
		prevLast = s.items[n-1].ID
	}
	s.items = slices.Clone(items)
	s.top = s.clampLocked(s.top)
	var below *core.Message
	if n := len(s.items); n > 0 && s.items[n-1].ID != prevLast && n-1 >= s.top+s.rows {
		below = &s.items[n-1]
	}
	s.mu.Unlock()

	if below != nil {
		s.printf("-- new message from %s below (/down) --\n", below.AuthorName)
	}
}

// ScrollMetrics implements scroll.Surface.
func (s *Screen) ScrollMetrics() scroll.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scroll.Metrics{ScrollTop: s.top, ScrollHeight: len(s.items), ClientHeight: s.rows}
}

// SetScrollTop implements scroll.Surface and redraws the window.
func (s *Screen) SetScrollTop(top int) {
	s.mu.Lock()
	s.top = s.clampLocked(top)
	fire := s.visibleLocked()
	frame := s.frameLocked()
	s.mu.Unlock()

	s.printf("%s", frame)
	notify(fire)
}

// ScrollBy moves the window by delta rows.
func (s *Screen) ScrollBy(delta int) {
	s.mu.Lock()
	top := s.top + delta
	s.mu.Unlock()
	s.SetScrollTop(top)
}

// Observe implements scroll.VisibilityObserver.
func (s *Screen) Observe(ids []string, visible func(id string)) {
	s.mu.Lock()
	for _, id := range ids {
		s.pending[id] = visible
	}
	fire := s.visibleLocked()
	s.mu.Unlock()

	notify(fire)
}

// SetReaders records how many users have read one of the local user's messages.
func (s *Screen) SetReaders(messageID string, count int) {
	s.mu.Lock()
	s.readers[messageID] = count
	s.mu.Unlock()
}

// SetTyping shows who is typing.
func (s *Screen) SetTyping(usernames []string) {
	s.mu.Lock()
	s.typing = slices.Clone(usernames)
	s.mu.Unlock()

	if len(usernames) > 0 {
		s.printf("%s\n", typingLine(usernames))
	}
}

// SetState shows the connection state.
func (s *Screen) SetState(state core.ConnState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed {
		s.printf("-- %s --\n", state)
	}
}

// Notice prints a one-line message.
func (s *Screen) Notice(format string, args ...any) {
	s.printf("! "+format+"\n", args...)
}

// Redraw prints the current window.
func (s *Screen) Redraw() {
	s.mu.Lock()
	frame := s.frameLocked()
	s.mu.Unlock()
	s.printf("%s", frame)
}

func (s *Screen) clampLocked(top int) int {
	return max(0, min(top, len(s.items)-s.rows))
}

type visibleCall struct {
	id string
	cb func(string)
}

func (s *Screen) visibleLocked() []visibleCall {
	end := min(s.top+s.rows, len(s.items))
	var out []visibleCall
	for i := s.top; i < end; i++ {
		id := s.items[i].ID
		if cb, ok := s.pending[id]; ok {
			delete(s.pending, id)
			out = append(out, visibleCall{id: id, cb: cb})
		}
	}
	return out
}

func notify(calls []visibleCall) {
	for _, c := range calls {
		c.cb(c.id)
	}
}

func (s *Screen) frameLocked() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s (%s) %d-%d of %d ===\n", s.room, s.state, min(s.top+1, len(s.items)), min(s.top+s.rows, len(s.items)), len(s.items))
	end := min(s.top+s.rows, len(s.items))
	for _, m := range s.items[s.top:end] {
		b.WriteString(s.lineLocked(m))
		b.WriteByte('\n')
	}
	if len(s.typing) > 0 {
		b.WriteString(typingLine(s.typing))
		b.WriteByte('\n')
	}
	return b.String()
}

func (s *Screen) lineLocked(m core.Message) string {
	line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format(timeLayout), m.AuthorName, m.Content)
	if m.AuthorID == s.selfID && s.selfID != "" {
		if n := s.readers[m.ID]; n > 0 {
			line += fmt.Sprintf("  (read by %d)", n)
		}
	}
	return line
}

func typingLine(usernames []string) string {
	if len(usernames) == 1 {
		return usernames[0] + " is typing..."
	}
	return strings.Join(usernames, ", ") + " are typing..."
}

func (s *Screen) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = fmt.Fprintf(s.out, format, args...)
}
