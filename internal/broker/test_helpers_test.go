package broker

import (
	"testing"
	"time"

	"github.com/engly817chat/engly-client/internal/core"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustError(t *testing.T, c *Client, code string) {
	t.Helper()
	ev := mustEvent(t, c.Events, EventError)
	if ev.Error == nil || ev.Error.Code != code {
		t.Fatalf("expected %s error, got %+v", code, ev.Error)
	}
}

// barrier waits until the hub has processed every command c sent before it.
func barrier(t *testing.T, c *Client) {
	t.Helper()
	c.Commands <- &Command{Kind: CommandUnsubscribe, SubscriptionID: "barrier"}
	mustError(t, c, core.ErrCodeNotSubscribed)
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.Events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}
