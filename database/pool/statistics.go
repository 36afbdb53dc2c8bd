package pool

import (
	"fmt"
	"sync"
	"time"
)

// fineGrainedSize is the number of pool states kept.
const fineGrainedSize = 1000

// State is the pool state when a connection was requested.
type State struct {
	Time      time.Time `json:"time"`
	Available int       `json:"available"`
	InUse     int       `json:"in_use"`
}

// Size returns the number of connections.
func (s State) Size() int { return s.Available + s.InUse }

// Statistics is a snapshot of the pool counters.
type Statistics struct {
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Created   time.Time `json:"created"`
	Reset     time.Time `json:"reset"`

	Available int `json:"available"`
	InUse     int `json:"in_use"`
	Size      int `json:"size"`

	ConnectionsCreated   int `json:"connections_created"`
	ConnectionsDestroyed int `json:"connections_destroyed"`

	Requests          int `json:"requests"`
	Delayed           int `json:"delayed"`
	Failed            int `json:"failed"`
	RequestsPerSecond int `json:"requests_per_second"`
	DelayedPerSecond  int `json:"delayed_per_second"`
	FailedPerSecond   int `json:"failed_per_second"`

	AverageCheckOutTime time.Duration `json:"average_check_out_time"`
	MinimumCheckOutTime time.Duration `json:"minimum_check_out_time"`
	MaximumCheckOutTime time.Duration `json:"maximum_check_out_time"`

	// States holds the fine grained pool states, oldest first.
	States []State `json:"states,omitempty"`
}

func (s Statistics) String() string {
	return fmt.Sprintf("%s: size=%d available=%d in_use=%d requests=%d delayed=%d failed=%d avg_check_out=%s",
		s.User, s.Size, s.Available, s.InUse, s.Requests, s.Delayed, s.Failed, s.AverageCheckOutTime)
}

// counter accumulates the pool statistics. Per second rates cover the
// time since the previous snapshot.
type counter struct {
	mu        sync.Mutex
	created   time.Time
	reset     time.Time
	rateSince time.Time

	connectionsCreated   int
	connectionsDestroyed int
	requests             int
	delayed              int
	failed               int
	rateRequests         int
	rateDelayed          int
	rateFailed           int
	checkOutTimes        []time.Duration

	states []State
}

func newCounter() *counter {
	now := time.Now()
	return &counter{created: now, reset: now, rateSince: now}
}

func (c *counter) connectionCreated(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionsCreated += n
}

func (c *counter) connectionDestroyed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionsDestroyed++
}

func (c *counter) request() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.rateRequests++
}

func (c *counter) requestDelayed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delayed++
	c.rateDelayed++
}

func (c *counter) requestFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	c.rateFailed++
}

func (c *counter) checkOut(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkOutTimes = append(c.checkOutTimes, d)
}

func (c *counter) addState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.states) == fineGrainedSize {
		copy(c.states, c.states[1:])
		c.states = c.states[:fineGrainedSize-1]
	}
	c.states = append(c.states, s)
}

// statesSince returns the states recorded at or after since.
func (c *counter) statesSince(since time.Time) []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []State
	for _, s := range c.states {
		if !s.Time.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// fill sets the counters of s and restarts the rate window.
func (c *counter) fill(s *Statistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	s.Created, s.Reset = c.created, c.reset
	s.ConnectionsCreated = c.connectionsCreated
	s.ConnectionsDestroyed = c.connectionsDestroyed
	s.Requests, s.Delayed, s.Failed = c.requests, c.delayed, c.failed
	if seconds := now.Sub(c.rateSince).Seconds(); seconds > 0 {
		s.RequestsPerSecond = int(float64(c.rateRequests) / seconds)
		s.DelayedPerSecond = int(float64(c.rateDelayed) / seconds)
		s.FailedPerSecond = int(float64(c.rateFailed) / seconds)
	}
	c.rateRequests, c.rateDelayed, c.rateFailed = 0, 0, 0
	c.rateSince = now
	if len(c.checkOutTimes) > 0 {
		var total time.Duration
		s.MinimumCheckOutTime = c.checkOutTimes[0]
		for _, d := range c.checkOutTimes {
			total += d
			s.MinimumCheckOutTime = min(s.MinimumCheckOutTime, d)
			s.MaximumCheckOutTime = max(s.MaximumCheckOutTime, d)
		}
		s.AverageCheckOutTime = total / time.Duration(len(c.checkOutTimes))
	}
}

func (c *counter) resetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionsCreated, c.connectionsDestroyed = 0, 0
	c.requests, c.delayed, c.failed = 0, 0, 0
	c.checkOutTimes = nil
	c.reset = time.Now()
}
