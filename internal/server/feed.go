package server

import (
	"sync"

	"github.com/benbjohnson/clock"
)

const (
	feedTimeLayout = "2006-01-02 15:04:05"

	// subscriberBuffer is how many lines a push consumer may fall behind
	// before lines are dropped for it.
	subscriberBuffer = 64
)

// Stats are the counters published to the status page.
type Stats struct {
	Clients         int   `json:"clients"`
	PublicMessages  int64 `json:"total_messages"`
	PrivateMessages int64 `json:"private_messages"`
}

// Feed is the one-way publish boundary between the Hub and its observers:
// a bounded ring of recent log lines, three counters and a set of push
// subscribers. The Hub writes to it; everything else only reads.
type Feed struct {
	mu      sync.RWMutex
	clock   clock.Clock
	metrics *Metrics

	ring  []string
	start int
	count int

	stats Stats
	subs  map[chan string]struct{}
}

// NewFeed creates a Feed retaining at most size lines.
func NewFeed(size int, clk clock.Clock, metrics *Metrics) *Feed {
	if size <= 0 {
		size = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Feed{
		clock:   clk,
		metrics: metrics,
		ring:    make([]string, size),
		subs:    make(map[chan string]struct{}),
	}
}

// Log stamps line, stores it and forwards it to every subscriber that has
// room. It never blocks on a slow subscriber.
func (f *Feed) Log(line string) {
	entry := "[" + f.clock.Now().Format(feedTimeLayout) + "] " + line

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count < len(f.ring) {
		f.ring[(f.start+f.count)%len(f.ring)] = entry
		f.count++
	} else {
		f.ring[f.start] = entry
		f.start = (f.start + 1) % len(f.ring)
	}

	for ch := range f.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Lines returns the retained lines, oldest first.
func (f *Feed) Lines() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.linesLocked()
}

func (f *Feed) linesLocked() []string {
	out := make([]string, f.count)
	for i := range f.count {
		out[i] = f.ring[(f.start+i)%len(f.ring)]
	}
	return out
}

// Subscribe returns the current backlog together with a channel receiving
// every later line. Nothing logged in between is lost or duplicated.
// cancel must be called once the consumer is gone.
func (f *Feed) Subscribe() (backlog []string, lines <-chan string, cancel func()) {
	ch := make(chan string, subscriberBuffer)

	f.mu.Lock()
	backlog = f.linesLocked()
	f.subs[ch] = struct{}{}
	f.metrics.setSubscribers(len(f.subs))
	f.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.metrics.setSubscribers(len(f.subs))
			f.mu.Unlock()
			close(ch)
		})
	}
	return backlog, ch, cancel
}

func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

func (f *Feed) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats
}

func (f *Feed) SetClients(n int) {
	f.mu.Lock()
	f.stats.Clients = n
	f.mu.Unlock()
	f.metrics.setClients(n)
}

func (f *Feed) IncPublic() {
	f.mu.Lock()
	f.stats.PublicMessages++
	f.mu.Unlock()
	f.metrics.incPublic()
}

func (f *Feed) IncPrivate() {
	f.mu.Lock()
	f.stats.PrivateMessages++
	f.mu.Unlock()
	f.metrics.incPrivate()
}
