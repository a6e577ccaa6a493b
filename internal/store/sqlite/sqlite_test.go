package sqlite

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/engly817chat/engly-client/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewWithSetup(":memory:", ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if alice.ID == "" {
		t.Fatal("expected generated id")
	}

	if _, err := s.CreateUser(ctx, "alice", "other"); err == nil {
		t.Fatal("expected duplicate username to fail")
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if byName.ID != alice.ID || byName.PasswordHash != "hash" {
		t.Fatalf("unexpected user %+v", byName)
	}

	byID, err := s.GetUserByID(ctx, alice.ID)
	if err != nil || byID.Username != "alice" {
		t.Fatalf("get by id: %+v, %v", byID, err)
	}

	if _, err := s.GetUserByUsername(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func seedMessages(t *testing.T, s *SQLiteStore, roomID, userID string, n int) []*store.Message {
	t.Helper()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]*store.Message, 0, n)
	for i := 0; i < n; i++ {
		msg := &store.Message{
			ID:        fmt.Sprintf("%s-m%03d", roomID, i),
			RoomID:    roomID,
			UserID:    userID,
			Username:  userID,
			Body:      fmt.Sprintf("hello %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveMessage(context.Background(), msg); err != nil {
			t.Fatalf("save message %d: %v", i, err)
		}
		out = append(out, msg)
	}
	return out
}

func TestMessagePages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedMessages(t, s, "r1", "u1", 7)
	seedMessages(t, s, "r2", "u1", 2)

	n, err := s.CountMessages(ctx, "r1")
	if err != nil || n != 7 {
		t.Fatalf("count = %d, %v", n, err)
	}

	tests := []struct {
		page int
		want []string
	}{
		{page: 0, want: []string{"r1-m000", "r1-m001", "r1-m002"}},
		{page: 1, want: []string{"r1-m003", "r1-m004", "r1-m005"}},
		{page: 2, want: []string{"r1-m006"}},
		{page: 3, want: nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			msgs, err := s.ListMessagesPage(ctx, "r1", tt.page, 3)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			var got []string
			for _, m := range msgs {
				got = append(got, m.ID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("page %d = %v, want %v", tt.page, got, tt.want)
			}
		})
	}

	if _, err := s.ListMessagesPage(ctx, "r1", -1, 3); err == nil {
		t.Fatal("expected negative page to fail")
	}
}

func TestSaveMessageFillsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &store.Message{RoomID: "r1", UserID: "u1", Username: "alice", Body: "hi"}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() || !msg.UpdatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("defaults not filled: %+v", msg)
	}

	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Body != "hi" || got.Username != "alice" || !got.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("unexpected message %+v", got)
	}

	if _, err := s.GetMessage(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkReadAndReaders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	author, _ := s.CreateUser(ctx, "alice", "hash")
	bob, _ := s.CreateUser(ctx, "bob", "hash")
	msgs := seedMessages(t, s, "r1", author.ID, 3)
	ids := []string{msgs[0].ID, msgs[1].ID}
	at := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

	marked, err := s.MarkRead(ctx, bob.ID, ids, at)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !reflect.DeepEqual(marked, ids) {
		t.Fatalf("marked = %v, want %v", marked, ids)
	}

	marked, err = s.MarkRead(ctx, bob.ID, []string{msgs[1].ID, msgs[2].ID, "missing"}, at.Add(time.Minute))
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if !reflect.DeepEqual(marked, []string{msgs[2].ID}) {
		t.Fatalf("second mark = %v, want only the unread message", marked)
	}

	marked, err = s.MarkRead(ctx, author.ID, ids, at)
	if err != nil {
		t.Fatalf("author mark read: %v", err)
	}
	if len(marked) != 0 {
		t.Fatalf("author reads of own messages must be ignored, got %v", marked)
	}

	readers, err := s.ListReaders(ctx, msgs[0].ID)
	if err != nil {
		t.Fatalf("list readers: %v", err)
	}
	if len(readers) != 1 || readers[0].UserID != bob.ID || readers[0].Username != "bob" || !readers[0].ReadAt.Equal(at) {
		t.Fatalf("unexpected readers %+v", readers)
	}

	readers, err = s.ListReaders(ctx, "missing")
	if err != nil || len(readers) != 0 {
		t.Fatalf("readers of unknown message = %v, %v", readers, err)
	}
}
