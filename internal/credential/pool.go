// Package credential manages the rotating pool of provider
// credentials. The pool is the single owner of credential state at
// runtime; units hold only the ID of the credential bound to their
// current attempt.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/pkg/models"
)

// ErrNoneAvailable is returned by Acquire when every active credential
// is exhausted or the pool is empty.
var ErrNoneAvailable = errors.New("no eligible credential available")

// Outcome describes how a released credential was used.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Pool is a round-robin credential rotation pool. All methods are safe
// for concurrent use; acquire/release are atomic with respect to each
// other so request counters never lose updates.
type Pool struct {
	mu     sync.Mutex
	creds  []*models.Credential
	cursor int
	policy models.RotationPolicy

	rotateStop chan struct{}
	rotateOnce sync.Once
}

// NewPool creates a pool seeded with the given credentials and policy.
func NewPool(creds []models.Credential, policy models.RotationPolicy) *Pool {
	p := &Pool{
		policy:     policy,
		rotateStop: make(chan struct{}),
	}
	p.swapLocked(creds)
	return p
}

// Acquire selects the next eligible credential round-robin, skipping
// inactive entries and entries over the per-credential request budget.
// The returned value is a copy; mutations go through Release.
func (p *Pool) Acquire(ctx context.Context) (*models.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	if n == 0 {
		return nil, ErrNoneAvailable
	}

	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		c := p.creds[idx]
		if !c.IsActive {
			continue
		}
		if p.exhaustedLocked(c) {
			continue
		}
		p.cursor = (idx + 1) % n
		copied := *c
		return &copied, nil
	}

	return nil, ErrNoneAvailable
}

// Release records the outcome of one provider request made with the
// credential: increments the request counter and stamps last use.
func (p *Pool) Release(id uuid.UUID, _ Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.creds {
		if c.ID == id {
			now := time.Now().UTC()
			c.RequestCount++
			c.LastUsedAt = &now
			c.UpdatedAt = now
			return
		}
	}
}

// exhaustedLocked reports whether the credential has used up its
// request budget within the rotation window. When rotation is
// disabled there is no budget.
func (p *Pool) exhaustedLocked(c *models.Credential) bool {
	if !p.policy.Enabled || p.policy.MaxRequestsPerCredential <= 0 {
		return false
	}
	if c.LastUsedAt != nil {
		window := time.Duration(p.policy.IntervalMinutes) * time.Minute
		if window > 0 && time.Since(*c.LastUsedAt) >= window {
			// Window elapsed since last use; budget resets.
			c.RequestCount = 0
			return false
		}
	}
	return c.RequestCount >= p.policy.MaxRequestsPerCredential
}

// Add appends a credential to the pool.
func (p *Pool) Add(c models.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := c
	p.creds = append(p.creds, &copied)
}

// Remove deletes a credential by id. Units already bound to it keep
// their reference; only future acquisitions are affected.
func (p *Pool) Remove(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, c := range p.creds {
		if c.ID == id {
			p.creds = append(p.creds[:i], p.creds[i+1:]...)
			if p.cursor >= len(p.creds) {
				p.cursor = 0
			}
			return true
		}
	}
	return false
}

// SetActive toggles a credential. Deactivating does not cancel units
// already bound to it.
func (p *Pool) SetActive(id uuid.UUID, active bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.creds {
		if c.ID == id {
			c.IsActive = active
			c.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// Swap atomically replaces the entire pool contents.
func (p *Pool) Swap(creds []models.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.swapLocked(creds)
}

func (p *Pool) swapLocked(creds []models.Credential) {
	p.creds = make([]*models.Credential, 0, len(creds))
	for i := range creds {
		c := creds[i]
		p.creds = append(p.creds, &c)
	}
	p.cursor = 0
}

// List returns a snapshot of all credentials.
func (p *Pool) List() []models.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Credential, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, *c)
	}
	return out
}

// Get returns a copy of one credential by id.
func (p *Pool) Get(id uuid.UUID) (*models.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.creds {
		if c.ID == id {
			copied := *c
			return &copied, true
		}
	}
	return nil, false
}

// SetPolicy replaces the pool's rotation policy. Jobs snapshot the
// policy at submission, so this affects subsequent jobs only.
func (p *Pool) SetPolicy(policy models.RotationPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
}

// Policy returns the current rotation policy.
func (p *Pool) Policy() models.RotationPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

// StartRotation runs the time-based rotation loop: every
// IntervalMinutes it resets request counters so exhausted credentials
// re-enter rotation. Runs until ctx is cancelled or Stop is called.
func (p *Pool) StartRotation(ctx context.Context) {
	p.mu.Lock()
	policy := p.policy
	p.mu.Unlock()

	if !policy.Enabled || policy.IntervalMinutes <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Duration(policy.IntervalMinutes) * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.rotateStop:
				return
			case <-ticker.C:
				p.resetCounters()
			}
		}
	}()
}

// Stop terminates the rotation loop.
func (p *Pool) Stop() {
	p.rotateOnce.Do(func() { close(p.rotateStop) })
}

func (p *Pool) resetCounters() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.creds {
		c.RequestCount = 0
	}
	slog.Debug("credential request counters reset", "credentials", len(p.creds))
}
