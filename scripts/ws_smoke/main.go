package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/engly817chat/engly-client/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/chat", "WebSocket address")
	token := flag.String("token", "", "bearer token sent in CONNECT")
	room := flag.String("room", "general", "room id")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	mustSend := func(f proto.Frame) error {
		if err := wsjson.Write(ctx, conn, f); err != nil {
			return fmt.Errorf("send %s: %w", f.Command, err)
		}
		return nil
	}

	if err := mustSend(proto.Frame{Command: proto.CommandConnect, Token: *token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	var connected proto.Frame
	if err := wsjson.Read(ctx, conn, &connected); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if connected.Command != proto.CommandConnected {
		return fmt.Errorf("handshake refused: %s %+v", connected.Command, connected.Error)
	}
	fmt.Printf("Connected as %q\n", connected.User)

	if err := mustSend(proto.Frame{Command: proto.CommandSubscribe, ID: "smoke", Destination: proto.RoomTopic(*room)}); err != nil {
		return err
	}

	body, err := json.Marshal(proto.SendMessageBody{RoomID: *room, Content: *text})
	if err != nil {
		return fmt.Errorf("marshal send: %w", err)
	}
	if err := mustSend(proto.Frame{Command: proto.CommandSend, Destination: proto.DestinationMessageSend, Body: body}); err != nil {
		return err
	}

	for {
		var f proto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch f.Command {
		case proto.CommandError:
			if f.Error != nil {
				return fmt.Errorf("server error %s: %s", f.Error.Code, f.Error.Msg)
			}
			return fmt.Errorf("server error")
		case proto.CommandMessage:
			ev, err := proto.Decode(f.Body, time.Now())
			if err != nil {
				fmt.Printf("Raw body: %s\n", string(f.Body))
				return fmt.Errorf("decode: %w", err)
			}
			switch e := ev.(type) {
			case proto.MessageSent:
				m := e.Message
				fmt.Printf("Message: room=%s author=%s text=%q at=%s\n", m.RoomID, m.AuthorName, m.Content, m.CreatedAt.Format(time.RFC3339))
				return nil
			case proto.UserTyping:
				fmt.Printf("Typing: user=%s typing=%t\n", e.Typing.Username, e.Typing.IsTyping)
			default:
				// keep looping for the echo
			}
		}
	}
}
