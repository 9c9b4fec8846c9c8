package search

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var feedOverrunsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "omdb_feed_overruns_total",
	Help: "Subscriptions closed because their backlog exceeded the feed limit",
})

// Update is a structural change of the result buffer: Insertion or Clear.
// Updates must be applied in the order they are received.
type Update interface {
	isUpdate()
}

// Insertion reports Count movies appended at buffer index Start.
type Insertion struct {
	Start int
	Count int
}

// Clear reports that the buffer, which held PreviousSize movies, was emptied.
type Clear struct {
	PreviousSize int
}

func (Insertion) isUpdate() {}
func (Clear) isUpdate()     {}

// Feed fans updates out to subscribers. Publishing never blocks: every
// subscription owns an ordered mailbox drained into its channel.
//
// With no limit the mailbox grows without bound while its consumer stalls.
// With a limit, a subscription whose backlog would exceed it is closed and
// the overrun logged; the consumer sees its channel close and must
// resubscribe and resynchronize from the row accessors.
type Feed struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	limit  int
	logger zerolog.Logger
}

// NewFeed creates an empty feed with unbounded mailboxes.
func NewFeed() *Feed {
	return NewFeedWithLimit(0)
}

// NewFeedWithLimit creates an empty feed whose subscriptions hold at most
// limit undelivered updates. limit <= 0 means unbounded.
func NewFeedWithLimit(limit int) *Feed {
	if limit < 0 {
		limit = 0
	}
	return &Feed{
		subs:   make(map[*Subscription]struct{}),
		limit:  limit,
		logger: log.With().Str("component", "search").Logger(),
	}
}

// Subscribe registers a subscriber that sees every update published from
// now on. Subscribing to a closed feed yields an already closed channel.
func (f *Feed) Subscribe() *Subscription {
	s := &Subscription{
		feed: f,
		wake: make(chan struct{}, 1),
		out:  make(chan Update),
		quit: make(chan struct{}),
	}

	f.mu.Lock()
	closed := f.closed
	if !closed {
		f.subs[s] = struct{}{}
	}
	f.mu.Unlock()

	go s.pump()
	if closed {
		s.stop()
	}
	return s
}

// Publish appends u to every subscriber's mailbox. Subscribers over the
// limit are closed.
func (f *Feed) Publish(u Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		if s.enqueue(u, f.limit) {
			continue
		}
		delete(f.subs, s)
		s.stop()
		feedOverrunsTotal.Inc()
		f.logger.Warn().Int("limit", f.limit).Msg("Subscription backlog overrun, closing subscription")
	}
}

// Close ends every subscription. Undelivered updates are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = make(map[*Subscription]struct{})
	f.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}

func (f *Feed) remove(s *Subscription) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
}

// Subscription is one consumer's view of a Feed.
type Subscription struct {
	feed *Feed

	mu    sync.Mutex
	queue []Update

	wake chan struct{}
	out  chan Update
	quit chan struct{}
	once sync.Once
}

// Updates returns the ordered update channel. It is closed when the
// subscription or its feed is closed.
func (s *Subscription) Updates() <-chan Update {
	return s.out
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.feed.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.quit) })
}

// enqueue reports false when the backlog is already at limit.
func (s *Subscription) enqueue(u Update, limit int) bool {
	s.mu.Lock()
	if limit > 0 && len(s.queue) >= limit {
		s.queue = nil
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, u)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.quit:
				return
			}
		}
		u := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- u:
		case <-s.quit:
			return
		}
	}
}
