package core

import (
	"errors"
	"fmt"
)

// Error codes carried in protocol-level ERROR frames.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeUnknownDestination = "unknown_destination"
	ErrCodeNotSubscribed      = "not_subscribed"
	ErrCodeAlreadySubscribed  = "already_subscribed"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeInternal           = "internal"
)

var (
	// ErrNotConnected is returned by publishes attempted while the transport is down.
	// The publish is dropped, not queued.
	ErrNotConnected = errors.New("transport not connected")
	// ErrStaleRoom is returned when a fetch completes after its room was closed.
	ErrStaleRoom = errors.New("result belongs to a closed room")
	// ErrClosed is returned by components used after Close.
	ErrClosed = errors.New("closed")
	// ErrEmptyMessage is returned when sending blank content.
	ErrEmptyMessage = errors.New("message is empty")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// NewError builds a CoreError.
func NewError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// TransportError describes a connect, subscribe or unexpected-close failure.
// It is never fatal: the session reconnects after a fixed delay.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PageLoadError describes a failed history fetch. The store is left unchanged.
type PageLoadError struct {
	RoomID string
	Page   int
	Err    error
}

func (e *PageLoadError) Error() string {
	return fmt.Sprintf("load page %d of room %s: %v", e.Page, e.RoomID, e.Err)
}

func (e *PageLoadError) Unwrap() error { return e.Err }

// MalformedEnvelope describes an inbound frame body that could not be decoded.
type MalformedEnvelope struct {
	Type string
	Err  error
}

func (e *MalformedEnvelope) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed envelope: %v", e.Err)
	}
	return fmt.Sprintf("malformed %s envelope: %v", e.Type, e.Err)
}

func (e *MalformedEnvelope) Unwrap() error { return e.Err }
