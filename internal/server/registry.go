package server

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/Tyrowin/gochat-broker/internal/protocol"
)

// MaxNicknameLength bounds a requested nickname before any collision suffix.
const MaxNicknameLength = 32

var (
	// ErrReservedIdentity is returned for nicknames that start with the relay marker.
	ErrReservedIdentity = errors.New("reserved identity")
	// ErrInvalidNickname is matched by every *NicknameError.
	ErrInvalidNickname = errors.New("invalid nickname")
)

// NicknameError describes why a requested nickname was refused.
type NicknameError struct {
	Reason string
}

func (e *NicknameError) Error() string { return "invalid nickname: " + e.Reason }

func (e *NicknameError) Is(target error) bool { return target == ErrInvalidNickname }

// ValidateNickname checks the shape of a nickname. Commas and whitespace are
// refused because they would corrupt USERLIST and /pm parsing.
func ValidateNickname(name string) error {
	if name == "" {
		return &NicknameError{Reason: "Nickname cannot be empty"}
	}
	if len(name) > MaxNicknameLength {
		return &NicknameError{Reason: fmt.Sprintf("Nickname too long (maximum %d characters)", MaxNicknameLength)}
	}
	if strings.ContainsFunc(name, func(r rune) bool { return r == ',' || unicode.IsSpace(r) || unicode.IsControl(r) }) {
		return &NicknameError{Reason: "Nickname cannot contain spaces or commas"}
	}
	return nil
}

// Registry maps active nicknames to their connections and back. It is owned
// by the Hub goroutine and is not safe for concurrent use.
type Registry struct {
	byName   map[string]*Client
	byClient map[*Client]string
	order    []string
	suffix   func(digits int) string
}

// NewRegistry returns an empty registry using random digit suffixes.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*Client),
		byClient: make(map[*Client]string),
		suffix:   randomDigits,
	}
}

func randomDigits(n int) string {
	var b strings.Builder
	for range n {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}

// Claim assigns requested to c, appending a random digit suffix until the
// name is unused. Names starting with the relay marker are refused.
func (r *Registry) Claim(requested string, c *Client) (string, error) {
	if strings.HasPrefix(requested, protocol.ReservedMarker) {
		return "", ErrReservedIdentity
	}
	if err := ValidateNickname(requested); err != nil {
		return "", err
	}
	return r.assign(requested, c), nil
}

// ClaimRelayed assigns a marker-prefixed nickname. Only connections from a
// trusted relay are allowed to use it.
func (r *Registry) ClaimRelayed(requested string, c *Client) (string, error) {
	bare, ok := strings.CutPrefix(requested, protocol.ReservedMarker)
	if !ok {
		return "", &NicknameError{Reason: "Relayed nickname must start with '*'"}
	}
	if err := ValidateNickname(bare); err != nil {
		return "", err
	}
	return r.assign(requested, c), nil
}

func (r *Registry) assign(requested string, c *Client) string {
	name := requested
	for attempt := 0; r.taken(name); attempt++ {
		// Widen the suffix once the short space is crowded.
		name = requested + r.suffix(3+attempt/1000)
	}

	if old, ok := r.byClient[c]; ok {
		r.Release(old)
	}
	r.byName[name] = c
	r.byClient[c] = name
	r.order = append(r.order, name)
	return name
}

func (r *Registry) taken(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Release frees name for immediate reuse.
func (r *Registry) Release(name string) {
	c, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	delete(r.byClient, c)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Lookup returns the connection holding name.
func (r *Registry) Lookup(name string) (*Client, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// NameOf returns the nickname held by c.
func (r *Registry) NameOf(c *Client) (string, bool) {
	name, ok := r.byClient[c]
	return name, ok
}

// Names returns the active nicknames in join order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int { return len(r.byName) }
