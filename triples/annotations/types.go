// Package annotations provides a low-overhead event stream describing how a
// query was planned and executed.
package annotations

import (
	"sync"
	"time"
)

// Event name constants following hierarchical naming pattern
const (
	// Query lifecycle
	QueryInvoked     = "query/invoked"
	QueryPlanCreated = "query/plan.created"
	QueryComplete    = "query/completed"

	// Pattern scans
	PatternIndexSelection = "pattern/index-selection"
	PatternStorageScan    = "pattern/storage-scan"

	// Join stages
	JoinNested       = "join/nested"
	JoinMerge        = "join/merge"
	JoinMergeAdvance = "join/merge.advance"

	// Output stages
	FilterApplied = "filter/applied"
	LimitReached  = "limit/reached"

	// Errors
	ErrorBackend = "error/backend"
)

// Event represents a single annotation event during query execution.
type Event struct {
	Name    string                 // Event name using hierarchical constants above
	QueryID string                 // Identifies the query that produced the event
	Start   time.Time              // Start timestamp
	End     time.Time              // End timestamp
	Latency time.Duration          // Duration (End - Start)
	Data    map[string]interface{} // Additional event-specific data
}

// Handler processes annotation events as they occur.
type Handler func(event Event)

// Collector accumulates events during query execution. Pipeline stages run on
// their own goroutines, so Add is safe for concurrent use. A nil Collector
// is valid and records nothing.
type Collector struct {
	handler Handler
	keep    bool

	mu     sync.Mutex
	events []Event
}

// NewCollector creates a collector that forwards every event to handler and
// keeps a copy for Events.
func NewCollector(handler Handler) *Collector {
	return &Collector{handler: handler, keep: true, events: make([]Event, 0, 64)}
}

// NewStreamingCollector forwards events to handler without retaining them,
// for long-running queries whose event count is unbounded.
func NewStreamingCollector(handler Handler) *Collector {
	return &Collector{handler: handler}
}

// Enabled reports whether events are being recorded. Callers use it to skip
// building event data.
func (c *Collector) Enabled() bool {
	return c != nil && (c.keep || c.handler != nil)
}

// Add records a new event.
func (c *Collector) Add(event Event) {
	if !c.Enabled() {
		return
	}
	if c.keep {
		c.mu.Lock()
		c.events = append(c.events, event)
		c.mu.Unlock()
	}
	// Call handler outside the lock to avoid deadlocks
	if c.handler != nil {
		c.handler(event)
	}
}

// AddTiming records an event that started at start and ends now.
func (c *Collector) AddTiming(name, queryID string, start time.Time, data map[string]interface{}) {
	if !c.Enabled() {
		return
	}
	end := time.Now()
	c.Add(Event{
		Name:    name,
		QueryID: queryID,
		Start:   start,
		End:     end,
		Latency: end.Sub(start),
		Data:    data,
	})
}

// Events returns all collected events.
func (c *Collector) Events() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Named returns the collected events with the given name, in arrival order.
func (c *Collector) Named(name string) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the collector for reuse.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
