// Package progress serializes unit-state transitions into ordered
// outward event streams. Push subscribers get every transition as it
// happens; callers that disconnect reconstruct current state from the
// snapshot endpoint, which shares this package's event vocabulary.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/pkg/models"
)

// Event types on the wire, one JSON record per line.
const (
	EventProgress      = "progress"
	EventVideoComplete = "video_complete"
	EventError         = "error"
	EventComplete      = "complete"
)

// Event is one record in a job's outward stream.
type Event struct {
	Type           string        `json:"type"`
	SequenceNumber int           `json:"sequence_number,omitempty"`
	Status         string        `json:"status,omitempty"`
	Message        string        `json:"message,omitempty"`
	ArtifactURL    string        `json:"artifact_url,omitempty"`
	Error          string        `json:"error,omitempty"`
	Units          []models.Unit `json:"units,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Subscribers that fall this far behind are dropped; they can rebuild
// state from the snapshot endpoint, which is the documented recovery
// path for disconnected consumers.
const subscriberBuffer = 256

type subscriber struct {
	ch     chan Event
	closed bool
}

// Publisher fans out per-job event streams. Publishing happens under
// one lock per call, so events for a single unit are delivered in
// transition order and no intermediate transition is lost, even when a
// unit passes through several states within one polling tick.
type Publisher struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]*subscriber
	done map[uuid.UUID]Event // final event for jobs already complete
}

// NewPublisher creates an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		subs: make(map[uuid.UUID][]*subscriber),
		done: make(map[uuid.UUID]Event),
	}
}

// Subscribe registers a consumer for a job's events. If the job has
// already finished, the final event is replayed immediately. The
// returned cancel func must be called when the consumer goes away.
func (p *Publisher) Subscribe(jobID uuid.UUID) (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	if final, ok := p.done[jobID]; ok {
		sub.ch <- final
		close(sub.ch)
		sub.closed = true
		return sub.ch, func() {}
	}

	p.subs[jobID] = append(p.subs[jobID], sub)

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		subs := p.subs[jobID]
		for i, s := range subs {
			if s == sub {
				p.subs[jobID] = append(subs[:i], subs[i+1:]...)
				if !s.closed {
					close(s.ch)
					s.closed = true
				}
				return
			}
		}
	}
	return sub.ch, cancel
}

// Publish delivers one event to every subscriber of the job. A
// subscriber whose buffer is full is dropped rather than blocking the
// pipeline.
func (p *Publisher) Publish(jobID uuid.UUID, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishLocked(jobID, ev)
}

// Complete publishes the terminal aggregate event and closes every
// subscriber channel. Later subscribers get the final event replayed.
func (p *Publisher) Complete(jobID uuid.UUID, units []models.Unit) {
	ev := Event{
		Type:      EventComplete,
		Units:     units,
		Timestamp: time.Now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.publishLocked(jobID, ev)
	p.done[jobID] = ev
	for _, s := range p.subs[jobID] {
		if !s.closed {
			close(s.ch)
			s.closed = true
		}
	}
	delete(p.subs, jobID)
}

// Reopen clears a job's final event so new transitions publish again,
// used when a retry starts after the job already completed.
func (p *Publisher) Reopen(jobID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.done, jobID)
}

// Discard drops all record of a job (subscribers and final event),
// used when the caller abandons it.
func (p *Publisher) Discard(jobID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.subs[jobID] {
		if !s.closed {
			close(s.ch)
			s.closed = true
		}
	}
	delete(p.subs, jobID)
	delete(p.done, jobID)
}

func (p *Publisher) publishLocked(jobID uuid.UUID, ev Event) {
	subs := p.subs[jobID]
	for i := 0; i < len(subs); {
		s := subs[i]
		select {
		case s.ch <- ev:
			i++
		default:
			// Slow consumer: drop it. It can rebuild from the snapshot.
			close(s.ch)
			s.closed = true
			subs = append(subs[:i], subs[i+1:]...)
		}
	}
	p.subs[jobID] = subs
}

// FromTransition builds the outward event for a unit transition.
func FromTransition(unit *models.Unit) Event {
	switch unit.Status {
	case models.UnitStatusCompleted:
		return Event{
			Type:           EventVideoComplete,
			SequenceNumber: unit.SequenceNumber,
			Status:         unit.Status,
			ArtifactURL:    unit.ArtifactURL,
		}
	case models.UnitStatusFailed:
		msg := ""
		if unit.ErrorMessage != nil {
			msg = *unit.ErrorMessage
		}
		return Event{
			Type:           EventError,
			SequenceNumber: unit.SequenceNumber,
			Status:         unit.Status,
			Error:          msg,
		}
	default:
		return Event{
			Type:           EventProgress,
			SequenceNumber: unit.SequenceNumber,
			Status:         unit.Status,
			Message:        "video " + unit.Status,
		}
	}
}
