package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Fixed markers of the text protocol. Clients parse frames by these
// prefixes, so they must not change.
const (
	HandshakePrefix = "NAME: "
	AssignedPrefix  = "CLIENT: "
	ErrorPrefix     = "ERROR: "
	UserListPrefix  = "USERLIST:"
	RateLimitPrefix = "RATE_LIMIT: "
	PrivateCommand  = "/pm"

	// ReservedMarker starts every relay-rewritten nickname.
	ReservedMarker = "*"
)

const (
	// ClockLayout is the timestamp layout of chat lines.
	ClockLayout = "15:04:05"

	RateLimitNotice = "You are sending messages too quickly. Slow down!"
	PrivateUsage    = "Usage: /pm <nickname> <message>"
	ReservedReason  = "Nickname cannot start with '*' (reserved for relay)"
)

// Handshake is the first frame a client sends.
func Handshake(name string) string {
	return HandshakePrefix + name
}

// ParseHandshake returns the requested nickname of a handshake frame.
func ParseHandshake(text string) (string, bool) {
	return strings.CutPrefix(text, HandshakePrefix)
}

// RewriteHandshake marks the nickname of a handshake frame as relayed. It
// returns false, and text unchanged, when text is not a handshake or the
// nickname already carries the marker.
func RewriteHandshake(text string) (string, bool) {
	name, ok := ParseHandshake(text)
	if !ok || strings.HasPrefix(name, ReservedMarker) {
		return text, false
	}
	return HandshakePrefix + ReservedMarker + name, true
}

// IsPrivateCommand reports whether text is addressed to the /pm command.
func IsPrivateCommand(text string) bool {
	return text == PrivateCommand || strings.HasPrefix(text, PrivateCommand+" ")
}

// ParsePrivateCommand splits "/pm <target> <body>". It returns false when
// either the target or the body is missing.
func ParsePrivateCommand(text string) (target, body string, ok bool) {
	if !IsPrivateCommand(text) {
		return "", "", false
	}
	rest := strings.TrimLeft(strings.TrimPrefix(text, PrivateCommand), " \t")
	i := strings.IndexAny(rest, " \t")
	if i < 0 {
		return "", "", false
	}
	target = rest[:i]
	body = strings.TrimLeft(rest[i:], " \t")
	if body == "" {
		return "", "", false
	}
	return target, body, true
}

func Assigned(name string) string { return AssignedPrefix + name }

func Error(reason string) string { return ErrorPrefix + reason }

func RateLimited(reason string) string { return RateLimitPrefix + reason }

// UserList renders the member snapshot.
func UserList(names []string) string {
	return UserListPrefix + strings.Join(names, ",")
}

// ParseUserList is the inverse of UserList.
func ParseUserList(text string) ([]string, bool) {
	rest, ok := strings.CutPrefix(text, UserListPrefix)
	if !ok {
		return nil, false
	}
	if rest == "" {
		return []string{}, true
	}
	return strings.Split(rest, ","), true
}

func Joined(name string, total int) string {
	return fmt.Sprintf("%s joined (Total Clients: %d)", name, total)
}

func Left(name string, total int) string {
	return fmt.Sprintf("%s left (Total Clients: %d)", name, total)
}

func Public(at time.Time, name, text string) string {
	return fmt.Sprintf("[%s] %s: %s", at.Format(ClockLayout), name, text)
}

func PrivateFrom(at time.Time, sender, text string) string {
	return fmt.Sprintf("[%s] PRIVATE from %s: %s", at.Format(ClockLayout), sender, text)
}

func PrivateTo(at time.Time, target, text string) string {
	return fmt.Sprintf("[%s] PRIVATE to %s: %s", at.Format(ClockLayout), target, text)
}

func Offline(at time.Time, sender, text string) string {
	return fmt.Sprintf("[%s] OFFLINE MESSAGE from %s: %s", at.Format(ClockLayout), sender, text)
}

func OfflineQueued(target string) string {
	return fmt.Sprintf("User %s is offline. Message saved for delivery.", target)
}
