package server

import (
	"errors"
	"net"
	"strings"
)

// connState tracks a connection through CONNECTING -> ACTIVE -> CLOSED.
type connState int

const (
	stateConnecting connState = iota
	stateActive
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateActive:
		return "active"
	default:
		return "closed"
	}
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventClosed
	eventWriteFailed
)

// event is what the pumps report to the Hub.
type event struct {
	kind   eventKind
	client *Client
	text   string
	err    error
}

var errSendQueueFull = errors.New("send queue full")

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}
