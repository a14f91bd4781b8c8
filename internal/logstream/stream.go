// Package logstream keeps the ordered progress log of every request id and
// pushes new lines to live subscribers.
package logstream

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultRetention = 10 * time.Minute
	DefaultSchedule  = "@every 10m"

	timestampLayout  = "2006-01-02 15:04:05.000"
	subscriberBuffer = 64
)

// Entry is one timestamped progress line.
type Entry struct {
	Timestamp time.Time `json:"-"`
	Message   string    `json:"message"`
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp.Format(timestampLayout), e.Message)
}

// FormattedTime is the timestamp as rendered in log lines.
func (e Entry) FormattedTime() string {
	return e.Timestamp.Format(timestampLayout)
}

// Stream is safe for concurrent use.
type Stream struct {
	mu      sync.RWMutex
	logs    map[string][]Entry
	subs    map[string]map[int]chan Entry
	nextSub int

	now       func() time.Time
	retention time.Duration
	schedule  string
	hooks     []func(maxAge time.Duration)

	cronMu sync.Mutex
	cron   *cron.Cron
}

type Option func(*Stream)

func WithClock(now func() time.Time) Option {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRetention(retention time.Duration) Option {
	return func(s *Stream) {
		if retention > 0 {
			s.retention = retention
		}
	}
}

// WithSchedule sets the cron spec of the periodic cleanup.
func WithSchedule(spec string) Option {
	return func(s *Stream) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithCleanupHook runs hook with the retention window after every scheduled
// cleanup, so other request-keyed caches can expire on the same cadence.
func WithCleanupHook(hook func(maxAge time.Duration)) Option {
	return func(s *Stream) {
		if hook != nil {
			s.hooks = append(s.hooks, hook)
		}
	}
}

func New(opts ...Option) *Stream {
	s := &Stream{
		logs:      map[string][]Entry{},
		subs:      map[string]map[int]chan Entry{},
		now:       func() time.Time { return time.Now().UTC() },
		retention: DefaultRetention,
		schedule:  DefaultSchedule,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log appends message to the request's history and pushes it to live
// subscribers. Slow subscribers miss lines rather than block the caller.
func (s *Stream) Log(requestID, message string) {
	entry := Entry{Timestamp: s.now(), Message: message}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[requestID] = append(s.logs[requestID], entry)
	for _, ch := range s.subs[requestID] {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Logs returns the formatted history of a request, empty for unknown ids.
func (s *Stream) Logs(requestID string) []string {
	entries := s.Entries(requestID)
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = entry.String()
	}
	return lines
}

func (s *Stream) Entries(requestID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry{}, s.logs[requestID]...)
}

// Subscribe returns the history so far and a channel receiving every later
// line. Both are taken under one lock, so no line is lost or repeated
// between them. The returned func unsubscribes and closes the channel.
func (s *Stream) Subscribe(requestID string) ([]Entry, <-chan Entry, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Entry, subscriberBuffer)
	id := s.nextSub
	s.nextSub++
	if s.subs[requestID] == nil {
		s.subs[requestID] = map[int]chan Entry{}
	}
	s.subs[requestID][id] = ch
	history := append([]Entry{}, s.logs[requestID]...)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[requestID], id)
			if len(s.subs[requestID]) == 0 {
				delete(s.subs, requestID)
			}
			close(ch)
		})
	}
	return history, ch, unsubscribe
}

// Cleanup evicts request ids whose oldest entry is older than maxAge and
// returns how many were removed.
func (s *Stream) Cleanup(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entries := range s.logs {
		if len(entries) > 0 && entries[0].Timestamp.Before(cutoff) {
			delete(s.logs, id)
			removed++
		}
	}
	return removed
}

// Start schedules the periodic cleanup. Calling Start twice is a no-op.
func (s *Stream) Start() error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.runCleanup); err != nil {
		return fmt.Errorf("schedule log cleanup %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	log.Printf("[logstream] cleanup scheduled %s, retention %s", s.schedule, s.retention)
	return nil
}

// Stop halts the scheduler and waits for a running cleanup to finish.
func (s *Stream) Stop() {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	log.Printf("[logstream] cleanup stopped")
}

func (s *Stream) runCleanup() {
	if removed := s.Cleanup(s.retention); removed > 0 {
		log.Printf("[logstream] removed logs of %d request(s)", removed)
	}
	for _, hook := range s.hooks {
		hook(s.retention)
	}
}
