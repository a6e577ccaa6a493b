package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisRelayDecodeSkipsOwnMessages(t *testing.T) {
	r := NewRedisRelay(nil, "engly:test", nil)

	encode := func(m relayMessage) string {
		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return string(data)
	}

	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{name: "foreign", payload: encode(relayMessage{Origin: "other", Topic: "/topic/messages/r1", Body: json.RawMessage(`{}`)}), want: true},
		{name: "own", payload: encode(relayMessage{Origin: r.origin, Topic: "/topic/messages/r1", Body: json.RawMessage(`{}`)}), want: false},
		{name: "no topic", payload: encode(relayMessage{Origin: "other"}), want: false},
		{name: "garbage", payload: "not json", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, body, ok := r.decode(tt.payload)
			if ok != tt.want {
				t.Fatalf("ok = %v, want %v", ok, tt.want)
			}
			if ok && (topic != "/topic/messages/r1" || string(body) != "{}") {
				t.Fatalf("decoded %q %s", topic, body)
			}
		})
	}
}

func TestRedisRelayPublishFailsWithoutServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	r := NewRedisRelay(client, "engly:test", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Publish(ctx, "/topic/messages/r1", []byte(`{}`)); err == nil {
		t.Fatal("expected publish error")
	}
}
