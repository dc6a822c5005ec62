package server

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed(size int) (*Feed, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 9, 14, 30, 0, 0, time.Local))
	return NewFeed(size, clk, NewMetrics()), clk
}

func TestFeedStampsLines(t *testing.T) {
	feed, _ := newTestFeed(10)

	feed.Log("alice joined (Total Clients: 1)")

	assert.Equal(t, []string{"[2024-03-09 14:30:00] alice joined (Total Clients: 1)"}, feed.Lines())
}

func TestFeedKeepsMostRecentLines(t *testing.T) {
	feed, clk := newTestFeed(3)

	for _, line := range []string{"a", "b", "c", "d", "e"} {
		feed.Log(line)
		clk.Add(time.Second)
	}

	assert.Equal(t, []string{
		"[2024-03-09 14:30:02] c",
		"[2024-03-09 14:30:03] d",
		"[2024-03-09 14:30:04] e",
	}, feed.Lines())
}

func TestFeedSubscribeBacklogThenLive(t *testing.T) {
	feed, _ := newTestFeed(10)
	feed.Log("before")

	backlog, lines, cancel := feed.Subscribe()
	defer cancel()

	require.Len(t, backlog, 1)
	assert.Contains(t, backlog[0], "before")
	assert.Equal(t, 1, feed.Subscribers())

	feed.Log("after")
	select {
	case line := <-lines:
		assert.Contains(t, line, "after")
	case <-time.After(time.Second):
		t.Fatal("live line not delivered")
	}
}

func TestFeedSlowSubscriberDoesNotBlock(t *testing.T) {
	feed, _ := newTestFeed(10)

	_, lines, cancel := feed.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range subscriberBuffer * 2 {
			feed.Log("spam")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a full subscriber")
	}
	assert.Len(t, lines, subscriberBuffer)
}

func TestFeedCancelClosesChannel(t *testing.T) {
	feed, _ := newTestFeed(10)

	_, lines, cancel := feed.Subscribe()
	cancel()
	cancel()

	_, ok := <-lines
	assert.False(t, ok)
	assert.Zero(t, feed.Subscribers())

	feed.Log("after cancel")
}

func TestFeedStats(t *testing.T) {
	feed, _ := newTestFeed(10)

	feed.SetClients(3)
	feed.IncPublic()
	feed.IncPublic()
	feed.IncPrivate()

	assert.Equal(t, Stats{Clients: 3, PublicMessages: 2, PrivateMessages: 1}, feed.Stats())
}
