// Package broadcast fans bus events out to live viewers. The registry
// tracks subscribers per project; the hub drains the bus and drives
// delivery, heartbeats, and stats updates.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ashen-peak/logtide/internal/metrics"
	"github.com/ashen-peak/logtide/internal/models"
)

const defaultQueueSize = 64

// Subscriber is one live viewer's delivery queue. Events arrive on Events
// in publish order; under pressure low-value events are shed first.
type Subscriber struct {
	id        string
	projectID string
	userID    string
	queue     chan *models.StreamEvent

	dropped atomic.Int64
	evicted atomic.Int64
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string { return s.id }

// ProjectID returns the project this subscriber watches.
func (s *Subscriber) ProjectID() string { return s.projectID }

// UserID returns the subscribing user.
func (s *Subscriber) UserID() string { return s.userID }

// Events returns the delivery channel. It is closed on unsubscribe.
func (s *Subscriber) Events() <-chan *models.StreamEvent { return s.queue }

// Dropped returns how many events were shed for this subscriber.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// offer queues the event, shedding by priority when the queue is full:
// heartbeats and stats updates are discarded outright, log entries are
// dropped next, and alerts evict the oldest queued event instead.
func (s *Subscriber) offer(event *models.StreamEvent) bool {
	select {
	case s.queue <- event:
		return true
	default:
	}

	if event.Droppable() {
		s.dropped.Add(1)
		metrics.EventsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
		return false
	}

	if event.Type == models.EventAlert {
		select {
		case <-s.queue:
			s.evicted.Add(1)
		default:
		}
		select {
		case s.queue <- event:
			return true
		default:
		}
	}

	s.dropped.Add(1)
	metrics.EventsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
	return false
}

// Stats is a snapshot of registry occupancy.
type Stats struct {
	Total      int            `json:"total"`
	PerProject map[string]int `json:"per_project"`
}

// Registry holds the active subscribers grouped by project. All methods
// are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	projects  map[string]map[string]*Subscriber
	queueSize int
}

// NewRegistry creates a registry. A non-positive queue size uses the
// default per-subscriber buffer.
func NewRegistry(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Registry{
		projects:  make(map[string]map[string]*Subscriber),
		queueSize: queueSize,
	}
}

// Subscribe registers a new viewer on the project.
func (r *Registry) Subscribe(projectID, userID string) *Subscriber {
	sub := &Subscriber{
		id:        uuid.NewString(),
		projectID: projectID,
		userID:    userID,
		queue:     make(chan *models.StreamEvent, r.queueSize),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.projects[projectID] == nil {
		r.projects[projectID] = make(map[string]*Subscriber)
	}
	r.projects[projectID][sub.id] = sub
	return sub
}

// Unsubscribe removes the viewer and closes its queue. Safe to call more
// than once.
func (r *Registry) Unsubscribe(sub *Subscriber) {
	r.mu.Lock()
	subs, ok := r.projects[sub.projectID]
	if ok {
		if _, present := subs[sub.id]; present {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(r.projects, sub.projectID)
			}
		} else {
			ok = false
		}
	}
	r.mu.Unlock()

	// Close only after removal so no broadcast can still be offering.
	if ok {
		close(sub.queue)
	}
}

// Broadcast delivers the event to every subscriber of its project. Events
// with an empty project id go to all subscribers. Returns the number of
// queues the event reached.
func (r *Registry) Broadcast(event *models.StreamEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	if event.ProjectID == "" {
		for _, subs := range r.projects {
			for _, sub := range subs {
				if sub.offer(event) {
					delivered++
				}
			}
		}
		return delivered
	}

	for _, sub := range r.projects[event.ProjectID] {
		if sub.offer(event) {
			delivered++
		}
	}
	return delivered
}

// Stats returns current subscriber counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{PerProject: make(map[string]int, len(r.projects))}
	for projectID, subs := range r.projects {
		stats.PerProject[projectID] = len(subs)
		stats.Total += len(subs)
	}
	return stats
}

// CloseAll releases every subscriber, closing their queues.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for projectID, subs := range r.projects {
		for id, sub := range subs {
			delete(subs, id)
			close(sub.queue)
		}
		delete(r.projects, projectID)
	}
}
