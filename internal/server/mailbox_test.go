package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMailboxDrainsInOrder(t *testing.T) {
	m := newMailbox()
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	m.enqueue("dave", MailboxEntry{From: "alice", Text: "one", At: at})
	m.enqueue("dave", MailboxEntry{From: "bob", Text: "two", At: at.Add(time.Second)})
	m.enqueue("erin", MailboxEntry{From: "alice", Text: "other", At: at})

	assert.Equal(t, 2, m.pending("dave"))

	got := m.drain("dave")
	assert.Equal(t, []MailboxEntry{
		{From: "alice", Text: "one", At: at},
		{From: "bob", Text: "two", At: at.Add(time.Second)},
	}, got)

	assert.Zero(t, m.pending("dave"))
	assert.Empty(t, m.drain("dave"))
	assert.Equal(t, 1, m.pending("erin"))
}
