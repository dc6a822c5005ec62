package server

import "time"

// MailboxEntry is a private message waiting for its recipient to join.
type MailboxEntry struct {
	From string
	Text string
	At   time.Time
}

// mailbox queues private messages per recipient nickname.
type mailbox struct {
	queues map[string][]MailboxEntry
}

func newMailbox() *mailbox {
	return &mailbox{queues: make(map[string][]MailboxEntry)}
}

func (m *mailbox) enqueue(to string, e MailboxEntry) {
	m.queues[to] = append(m.queues[to], e)
}

// drain removes and returns the whole queue for to, oldest first.
func (m *mailbox) drain(to string) []MailboxEntry {
	entries := m.queues[to]
	delete(m.queues, to)
	return entries
}

func (m *mailbox) pending(to string) int { return len(m.queues[to]) }
