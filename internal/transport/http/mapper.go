package http

import (
	"github.com/engly817chat/engly-client/internal/broker"
	"github.com/engly817chat/engly-client/internal/core"
	"github.com/engly817chat/engly-client/internal/proto"
)

// frameToCommand maps a client frame received after the handshake.
func frameToCommand(f proto.Frame) (*broker.Command, *proto.Error) {
	switch f.Command {
	case proto.CommandSubscribe:
		if f.ID == "" || f.Destination == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "id and destination are required"}
		}
		return &broker.Command{
			Kind:           broker.CommandSubscribe,
			SubscriptionID: f.ID,
			Destination:    f.Destination,
		}, nil
	case proto.CommandUnsubscribe:
		if f.ID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "id is required"}
		}
		return &broker.Command{
			Kind:           broker.CommandUnsubscribe,
			SubscriptionID: f.ID,
		}, nil
	case proto.CommandSend:
		if f.Destination == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "destination is required"}
		}
		return &broker.Command{
			Kind:        broker.CommandSend,
			Destination: f.Destination,
			Body:        f.Body,
		}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unexpected command " + f.Command}
	}
}

func frameFromEvent(event *broker.Event) proto.Frame {
	switch event.Kind {
	case broker.EventMessage:
		return proto.Frame{
			Command:      proto.CommandMessage,
			Subscription: event.Subscription,
			Destination:  event.Destination,
			Body:         event.Body,
		}
	case broker.EventError:
		if event.Error == nil {
			return errorFrame(core.ErrCodeInternal, "unknown error")
		}
		return errorFrame(event.Error.Code, event.Error.Message)
	default:
		return errorFrame(core.ErrCodeInternal, "unknown event")
	}
}

func errorFrame(code, msg string) proto.Frame {
	return proto.Frame{Command: proto.CommandError, Error: &proto.Error{Code: code, Msg: msg}}
}
