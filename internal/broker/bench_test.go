package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/engly817chat/engly-client/internal/proto"
)

func benchmarkTopicBroadcast(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil, nil)
	go hub.Run(ctx)

	sender := NewClient("sender", "u0", "sender")
	hub.RegisterClient(sender)

	clients := make([]*Client, 0, recipients)
	for i := range recipients {
		c := NewClient(fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i+1), "client")
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandSubscribe, SubscriptionID: "s", Destination: proto.RoomTopic("bench")}
		clients = append(clients, c)
	}

	// Drain events for all but the first recipient to avoid channel backpressure.
	target := clients[0]
	for _, c := range clients[1:] {
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}

	body, _ := json.Marshal(proto.SendMessageBody{RoomID: "bench", Content: "payload"})

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sender.Commands <- &Command{
			Kind:        CommandSend,
			Destination: proto.DestinationMessageSend,
			Body:        body,
		}
		for ev := range target.Events {
			if ev.Kind == EventMessage {
				break
			}
		}
	}
}

func BenchmarkTopicBroadcast_10(b *testing.B)  { benchmarkTopicBroadcast(b, 10) }
func BenchmarkTopicBroadcast_100(b *testing.B) { benchmarkTopicBroadcast(b, 100) }
func BenchmarkTopicBroadcast_500(b *testing.B) { benchmarkTopicBroadcast(b, 500) }
