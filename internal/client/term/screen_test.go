package term

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/engly817chat/engly-client/internal/core"
)

func makeMessages(n int, author string) []core.Message {
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	out := make([]core.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.Message{
			ID:         fmt.Sprintf("m%02d", i),
			RoomID:     "general",
			AuthorID:   author,
			AuthorName: author,
			Content:    fmt.Sprintf("line %d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestScreenMetricsAndClamp(t *testing.T) {
	var out bytes.Buffer
	s := NewScreen(&out, 5, "u1")
	s.Reset("general")

	s.Render(makeMessages(12, "u2"))
	if m := s.ScrollMetrics(); m.ScrollHeight != 12 || m.ClientHeight != 5 || m.ScrollTop != 0 {
		t.Fatalf("metrics = %+v", m)
	}

	s.SetScrollTop(100)
	if got := s.ScrollMetrics().ScrollTop; got != 7 {
		t.Fatalf("top clamped to %d, want 7", got)
	}
	s.ScrollBy(-3)
	if got := s.ScrollMetrics().ScrollTop; got != 4 {
		t.Fatalf("top = %d, want 4", got)
	}
	if !strings.Contains(out.String(), "line 4") || !strings.Contains(out.String(), "5-9 of 12") {
		t.Fatalf("frame not drawn:\n%s", out.String())
	}

	s.Render(makeMessages(2, "u2"))
	if got := s.ScrollMetrics().ScrollTop; got != 0 {
		t.Fatalf("top must be clamped after shrink, got %d", got)
	}
}

func TestScreenVisibility(t *testing.T) {
	s := NewScreen(&bytes.Buffer{}, 3, "u1")
	msgs := makeMessages(6, "u2")
	s.Render(msgs)

	var seen []string
	record := func(id string) { seen = append(seen, id) }

	s.Observe([]string{"m00", "m01", "m02", "m03", "m04", "m05"}, record)
	if !reflect.DeepEqual(seen, []string{"m00", "m01", "m02"}) {
		t.Fatalf("initially visible = %v", seen)
	}

	s.SetScrollTop(3)
	if !reflect.DeepEqual(seen, []string{"m00", "m01", "m02", "m03", "m04", "m05"}) {
		t.Fatalf("after scroll = %v", seen)
	}

	// Each id is reported once.
	s.SetScrollTop(0)
	if len(seen) != 6 {
		t.Fatalf("ids reported twice: %v", seen)
	}
}

func TestScreenReadMarkersAndTyping(t *testing.T) {
	var out bytes.Buffer
	s := NewScreen(&out, 5, "u1")
	s.Reset("general")
	s.Render(makeMessages(2, "u1"))

	s.SetReaders("m01", 2)
	s.SetTyping([]string{"bob", "carol"})
	s.Redraw()

	got := out.String()
	if !strings.Contains(got, "line 1  (read by 2)") {
		t.Fatalf("missing read marker:\n%s", got)
	}
	if strings.Contains(got, "line 0  (read by") {
		t.Fatalf("unread message must not carry a marker:\n%s", got)
	}
	if !strings.Contains(got, "bob, carol are typing...") {
		t.Fatalf("missing typing line:\n%s", got)
	}
}

func TestScreenNewMessageBelowNotice(t *testing.T) {
	var out bytes.Buffer
	s := NewScreen(&out, 2, "u1")
	msgs := makeMessages(5, "u2")
	s.Render(msgs[:4])
	s.SetScrollTop(0)

	s.Render(msgs)
	if !strings.Contains(out.String(), "new message from u2 below") {
		t.Fatalf("expected below notice:\n%s", out.String())
	}
}

func TestScreenStateChange(t *testing.T) {
	var out bytes.Buffer
	s := NewScreen(&out, 2, "u1")

	s.SetState(core.Connecting)
	s.SetState(core.Connecting)
	s.SetState(core.Connected)
	if got := strings.Count(out.String(), "--"); got != 4 {
		t.Fatalf("expected two state lines, output:\n%s", out.String())
	}
}
