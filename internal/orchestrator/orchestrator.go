// Package orchestrator owns the lifecycle of generation jobs. It is
// the single writer of unit state: the scheduler releases batches,
// pollers drive provider operations, and every resulting transition
// funnels back through the orchestrator's commit point, where the
// attempt-id guard and the monotonic state machine are enforced.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/cache"
	"github.com/reelforge/reelforge/internal/credential"
	"github.com/reelforge/reelforge/internal/events"
	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/poller"
	"github.com/reelforge/reelforge/internal/progress"
	"github.com/reelforge/reelforge/internal/scheduler"
	"github.com/reelforge/reelforge/internal/store"
	"github.com/reelforge/reelforge/pkg/models"
)

// MaxUnitsPerJob bounds a single submission.
const MaxUnitsPerJob = 200

const (
	snapshotTTL   = 24 * time.Hour
	mirrorTimeout = 5 * time.Second
)

var (
	ErrEmptyJob     = errors.New("job contains no units")
	ErrTooManyUnits = fmt.Errorf("job exceeds %d units", MaxUnitsPerJob)
	ErrJobNotFound  = errors.New("job not found")
	ErrUnitNotFound = errors.New("unit not found")
)

// JobRequest is one validated submission: an ordered list of unit
// requests plus an optional project reference.
type JobRequest struct {
	ProjectID *uuid.UUID
	Units     []models.UnitRequest
}

// jobState is the live in-memory view of one job. All fields are
// guarded by the orchestrator mutex.
type jobState struct {
	job     *models.Job
	policy  models.RotationPolicy
	units   []*models.Unit // ordered by sequence number
	byID    map[uuid.UUID]*models.Unit
	cancels map[uuid.UUID]context.CancelFunc
	secrets map[uuid.UUID]string
	started map[uuid.UUID]time.Time
}

// Orchestrator composes the credential pool, scheduler, poller,
// progress publisher, persistence and event publishing into the job
// lifecycle.
type Orchestrator struct {
	store    store.Store
	cache    cache.Cache
	pool     *credential.Pool
	sched    *scheduler.Scheduler
	poller   *poller.Poller
	progress *progress.Publisher
	events   events.Publisher
	provider models.VideoProvider

	// ctx is the root of every attempt context; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	jobs      map[uuid.UUID]*jobState
	unitIndex map[uuid.UUID]uuid.UUID // unit id -> job id
}

// New creates an Orchestrator. The scheduler is built over the same
// credential pool so batch pacing and rotation share one policy.
func New(st store.Store, c cache.Cache, pool *credential.Pool, p *poller.Poller, prog *progress.Publisher, ev events.Publisher, provider models.VideoProvider) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     st,
		cache:     c,
		pool:      pool,
		sched:     scheduler.New(pool),
		poller:    p,
		progress:  prog,
		events:    ev,
		provider:  provider,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[uuid.UUID]*jobState),
		unitIndex: make(map[uuid.UUID]uuid.UUID),
	}
}

// SubmitJob validates the request, creates the job and its units with
// sequence numbers 1..N, persists them, and launches the run
// goroutine. Units are returned in submission order; the caller
// streams or polls from here on.
func (o *Orchestrator) SubmitJob(ctx context.Context, req JobRequest) (*models.Job, []models.Unit, error) {
	if len(req.Units) == 0 {
		return nil, nil, ErrEmptyJob
	}
	if len(req.Units) > MaxUnitsPerJob {
		return nil, nil, ErrTooManyUnits
	}

	policy := o.pool.Policy()
	policy.Clamp()

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		ProjectID: req.ProjectID,
		Status:    models.JobStatusPending,
		UnitCount: len(req.Units),
		Policy:    policy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	js := &jobState{
		job:     job,
		policy:  policy,
		byID:    make(map[uuid.UUID]*models.Unit),
		cancels: make(map[uuid.UUID]context.CancelFunc),
		secrets: make(map[uuid.UUID]string),
		started: make(map[uuid.UUID]time.Time),
	}
	for i, r := range req.Units {
		u := &models.Unit{
			ID:               uuid.New(),
			JobID:            job.ID,
			SequenceNumber:   i + 1,
			Request:          r,
			Status:           models.UnitStatusPending,
			AttemptID:        uuid.New(),
			CreatedAt:        now,
			LastTransitionAt: now,
		}
		js.units = append(js.units, u)
		js.byID[u.ID] = u
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("persist job: %w", err)
	}
	for _, u := range js.units {
		o.mirrorHistory(u)
	}

	o.mu.Lock()
	o.jobs[job.ID] = js
	for _, u := range js.units {
		o.unitIndex[u.ID] = job.ID
	}
	o.mu.Unlock()

	slog.Info("job submitted", "job_id", job.ID, "units", job.UnitCount,
		"units_per_batch", policy.UnitsPerBatch, "batch_delay_s", policy.BatchDelaySeconds)

	o.wg.Add(1)
	go o.run(job.ID)

	out := make([]models.Unit, 0, len(js.units))
	for _, u := range js.units {
		out = append(out, *u.Clone())
	}
	return job, out, nil
}

// run drives one job's scheduling pass. Completion is detected at the
// commit point, not here: the last batch may still be polling long
// after Schedule returns.
func (o *Orchestrator) run(jobID uuid.UUID) {
	defer o.wg.Done()

	o.mu.Lock()
	js, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	js.job.Status = models.JobStatusRunning
	js.job.UpdatedAt = time.Now().UTC()
	units := append([]*models.Unit(nil), js.units...)
	policy := js.policy
	o.mu.Unlock()

	o.persistJobStatus(jobID, models.JobStatusRunning)
	o.saveSnapshot(jobID)

	if err := o.sched.Schedule(o.ctx, units, policy, o.launch, o.failBeforeLaunch); err != nil {
		slog.Info("scheduling stopped early", "job_id", jobID, "error", err)
	}
}

// launch binds the credential to the unit and starts its poller run
// on a fresh attempt context. Matches the scheduler's Launcher
// contract: it must not block.
func (o *Orchestrator) launch(_ context.Context, unit *models.Unit, cred *models.Credential) {
	o.mu.Lock()
	js, ok := o.jobs[unit.JobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	u, ok := js.byID[unit.ID]
	if !ok {
		o.mu.Unlock()
		return
	}

	credID := cred.ID
	u.CredentialID = &credID
	js.secrets[u.ID] = cred.Secret
	js.started[u.ID] = time.Now().UTC()

	attemptCtx, cancelAttempt := context.WithCancel(o.ctx)
	js.cancels[u.ID] = cancelAttempt

	attempt := poller.Attempt{
		UnitID:    u.ID,
		AttemptID: u.AttemptID,
		Secret:    cred.Secret,
		Request:   submitRequest(u.Request),
	}
	o.mu.Unlock()

	metrics.ActiveUnits.Inc()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.poller.Drive(attemptCtx, attempt, o)
	}()
}

// failBeforeLaunch marks a unit failed when no credential could be
// bound, so exhaustion surfaces immediately instead of retry-looping.
func (o *Orchestrator) failBeforeLaunch(unit *models.Unit, err error) {
	o.mu.Lock()
	jobID, ok := o.unitIndex[unit.ID]
	if !ok {
		o.mu.Unlock()
		return
	}
	attemptID := o.jobs[jobID].byID[unit.ID].AttemptID
	o.mu.Unlock()

	o.Transition(unit.ID, attemptID, models.UnitStatusFailed, poller.Update{
		ErrorMessage: fmt.Sprintf("credential acquisition failed: %v", err),
	})
}

// Transition is the single commit point for unit state. It implements
// poller.Sink. A transition is rejected (returns false) when the
// attempt id no longer matches or the unit is already terminal; the
// calling poller run stops on rejection.
func (o *Orchestrator) Transition(unitID, attemptID uuid.UUID, status string, upd poller.Update) bool {
	o.mu.Lock()
	jobID, ok := o.unitIndex[unitID]
	if !ok {
		o.mu.Unlock()
		return false
	}
	js := o.jobs[jobID]
	u := js.byID[unitID]

	if u.AttemptID != attemptID {
		o.mu.Unlock()
		return false
	}
	if models.TerminalUnitStatus(u.Status) {
		o.mu.Unlock()
		return false
	}

	u.Status = status
	u.LastTransitionAt = time.Now().UTC()
	if upd.OperationHandle != "" {
		u.OperationHandle = upd.OperationHandle
	}
	if upd.ArtifactURL != "" {
		u.ArtifactURL = upd.ArtifactURL
	}
	if upd.ErrorMessage != "" {
		msg := upd.ErrorMessage
		u.ErrorMessage = &msg
	}

	ev := progress.FromTransition(u)
	unitCopy := *u.Clone()
	terminal := models.TerminalUnitStatus(status)

	var (
		cancelAttempt context.CancelFunc
		credID        *uuid.UUID
		startedAt     time.Time
		hadStart      bool
		allDone       bool
		finalUnits    []models.Unit
		jobStatus     string
	)
	if terminal {
		cancelAttempt = js.cancels[unitID]
		delete(js.cancels, unitID)
		credID = u.CredentialID
		startedAt, hadStart = js.started[unitID]
		delete(js.started, unitID)

		allDone = true
		failedCount := 0
		for _, unit := range js.units {
			if !models.TerminalUnitStatus(unit.Status) {
				allDone = false
				break
			}
			if unit.Status == models.UnitStatusFailed {
				failedCount++
			}
		}
		if allDone {
			jobStatus = models.JobStatusCompleted
			if failedCount == len(js.units) {
				jobStatus = models.JobStatusFailed
			}
			js.job.Status = jobStatus
			now := time.Now().UTC()
			js.job.UpdatedAt = now
			js.job.CompletedAt = &now
			for _, unit := range js.units {
				finalUnits = append(finalUnits, *unit.Clone())
			}
		}
	}
	o.mu.Unlock()

	o.progress.Publish(jobID, ev)

	if terminal {
		if cancelAttempt != nil {
			cancelAttempt()
		}
		if credID != nil {
			outcome := credential.OutcomeSuccess
			if status == models.UnitStatusFailed {
				outcome = credential.OutcomeFailure
			}
			o.pool.Release(*credID, outcome)
			o.persistCredentialUsage(*credID)
		}
		metrics.UnitsProcessedTotal.WithLabelValues(status).Inc()
		if hadStart {
			metrics.ActiveUnits.Dec()
			metrics.PollDuration.Observe(time.Since(startedAt).Seconds())
		}
		o.mirrorHistory(&unitCopy)
		o.events.PublishUnitStatus(context.Background(), &unitCopy)
	}

	if allDone {
		slog.Info("job finished", "job_id", jobID, "status", jobStatus)
		o.progress.Complete(jobID, finalUnits)
		o.persistJobStatus(jobID, jobStatus)
		o.clearSnapshot(jobID)
	} else {
		o.saveSnapshot(jobID)
	}
	return true
}

// Snapshot returns a point-in-time copy of the job and its units,
// ordered by sequence number.
func (o *Orchestrator) Snapshot(jobID uuid.UUID) (*models.Job, []models.Unit, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	js, ok := o.jobs[jobID]
	if !ok {
		return nil, nil, ErrJobNotFound
	}
	job := *js.job
	units := make([]models.Unit, 0, len(js.units))
	for _, u := range js.units {
		units = append(units, *u.Clone())
	}
	return &job, units, nil
}

// Subscribe attaches a consumer to the job's event stream.
func (o *Orchestrator) Subscribe(jobID uuid.UUID) (<-chan progress.Event, func(), error) {
	o.mu.Lock()
	_, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return nil, nil, ErrJobNotFound
	}
	ch, cancel := o.progress.Subscribe(jobID)
	return ch, cancel, nil
}

// DiscardJob abandons a job so the client can start fresh: in-flight
// attempts are cancelled, their credentials released, the stream and
// Redis snapshot dropped. History rows persist as the audit trail;
// late poller responses are rejected once the unit index forgets the
// units.
func (o *Orchestrator) DiscardJob(jobID uuid.UUID) error {
	o.mu.Lock()
	js, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}

	var (
		cancels  []context.CancelFunc
		credIDs  []uuid.UUID
		inFlight int
	)
	for _, u := range js.units {
		if cancel, ok := js.cancels[u.ID]; ok {
			cancels = append(cancels, cancel)
		}
		if _, ok := js.started[u.ID]; ok {
			inFlight++
		}
		if !models.TerminalUnitStatus(u.Status) && u.CredentialID != nil {
			credIDs = append(credIDs, *u.CredentialID)
		}
		delete(o.unitIndex, u.ID)
	}
	delete(o.jobs, jobID)
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for i := 0; i < inFlight; i++ {
		metrics.ActiveUnits.Dec()
	}
	for _, id := range credIDs {
		o.pool.Release(id, credential.OutcomeFailure)
		o.persistCredentialUsage(id)
	}

	o.progress.Discard(jobID)
	o.clearSnapshot(jobID)
	slog.Info("job discarded", "job_id", jobID)
	return nil
}

// UnitStatus implements retrier.Jobs.
func (o *Orchestrator) UnitStatus(unitID uuid.UUID) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	jobID, ok := o.unitIndex[unitID]
	if !ok {
		return "", false
	}
	return o.jobs[jobID].byID[unitID].Status, true
}

// FailedUnits implements retrier.Jobs: the job's currently failed
// units, ordered by sequence number.
func (o *Orchestrator) FailedUnits(jobID uuid.UUID) []uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()

	js, ok := o.jobs[jobID]
	if !ok {
		return nil
	}
	var out []uuid.UUID
	for _, u := range js.units {
		if u.Status == models.UnitStatusFailed {
			out = append(out, u.ID)
		}
	}
	return out
}

// CancelAttempt implements retrier.Jobs: rotates the attempt id so any
// in-flight poller response is rejected at the commit point, and
// cancels the attempt context so the run stops between polls.
func (o *Orchestrator) CancelAttempt(unitID uuid.UUID) {
	o.mu.Lock()
	jobID, ok := o.unitIndex[unitID]
	if !ok {
		o.mu.Unlock()
		return
	}
	js := o.jobs[jobID]
	u := js.byID[unitID]
	u.AttemptID = uuid.New()

	cancelAttempt := js.cancels[unitID]
	delete(js.cancels, unitID)
	_, hadStart := js.started[unitID]
	delete(js.started, unitID)

	var credID *uuid.UUID
	if !models.TerminalUnitStatus(u.Status) {
		credID = u.CredentialID
	}
	o.mu.Unlock()

	if cancelAttempt != nil {
		cancelAttempt()
	}
	if hadStart {
		metrics.ActiveUnits.Dec()
	}
	if credID != nil {
		o.pool.Release(*credID, credential.OutcomeFailure)
		o.persistCredentialUsage(*credID)
	}
}

// StartAttempt implements retrier.Jobs: resets the unit for a fresh
// attempt, binds a new credential and launches a new poller run. The
// caller must have invalidated the previous attempt first.
func (o *Orchestrator) StartAttempt(ctx context.Context, unitID uuid.UUID) error {
	o.mu.Lock()
	jobID, ok := o.unitIndex[unitID]
	if !ok {
		o.mu.Unlock()
		return ErrUnitNotFound
	}
	o.mu.Unlock()

	cred, err := o.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire credential for retry: %w", err)
	}

	o.mu.Lock()
	js := o.jobs[jobID]
	u := js.byID[unitID]

	u.AttemptID = uuid.New()
	u.Status = models.UnitStatusStarting
	u.ErrorMessage = nil
	u.ArtifactURL = ""
	u.OperationHandle = ""
	credID := cred.ID
	u.CredentialID = &credID
	u.LastTransitionAt = time.Now().UTC()
	js.secrets[unitID] = cred.Secret
	js.started[unitID] = time.Now().UTC()

	if models.TerminalUnitStatus(js.job.Status) {
		js.job.Status = models.JobStatusRunning
		js.job.CompletedAt = nil
	}

	attemptCtx, cancelAttempt := context.WithCancel(o.ctx)
	js.cancels[unitID] = cancelAttempt
	attempt := poller.Attempt{
		UnitID:    unitID,
		AttemptID: u.AttemptID,
		Secret:    cred.Secret,
		Request:   submitRequest(u.Request),
	}
	ev := progress.FromTransition(u)
	o.mu.Unlock()

	o.progress.Reopen(jobID)
	o.progress.Publish(jobID, ev)
	o.persistJobStatus(jobID, models.JobStatusRunning)

	metrics.ActiveUnits.Inc()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.poller.Drive(attemptCtx, attempt, o)
	}()
	return nil
}

// CancelUnit aborts a unit's current attempt and marks it failed.
// Cancelling an already terminal unit is a no-op error-free call.
func (o *Orchestrator) CancelUnit(unitID uuid.UUID) error {
	o.mu.Lock()
	jobID, ok := o.unitIndex[unitID]
	if !ok {
		o.mu.Unlock()
		return ErrUnitNotFound
	}
	u := o.jobs[jobID].byID[unitID]
	if models.TerminalUnitStatus(u.Status) {
		o.mu.Unlock()
		return nil
	}
	attemptID := u.AttemptID
	o.mu.Unlock()

	// Fail under the old attempt id first, then rotate it so any
	// response already in flight is dropped.
	o.Transition(unitID, attemptID, models.UnitStatusFailed, poller.Update{
		ErrorMessage: "attempt cancelled",
	})
	o.CancelAttempt(unitID)
	return nil
}

// StatusReport is the answer to a raw status check: the provider's own
// status string plus its normalized reading.
type StatusReport struct {
	RawStatus    string `json:"raw_status"`
	Status       string `json:"status"`
	Done         bool   `json:"done"`
	ArtifactURL  string `json:"artifact_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// CheckStatus polls the provider once for an operation handle, outside
// any unit state machine. When the unit is known its bound credential
// is reused; otherwise one is drawn from the pool.
func (o *Orchestrator) CheckStatus(ctx context.Context, unitID *uuid.UUID, operationHandle string) (*StatusReport, error) {
	secret, credID, err := o.secretFor(ctx, unitID)
	if err != nil {
		return nil, err
	}

	res, err := o.provider.Poll(ctx, secret, operationHandle)
	if credID != nil {
		outcome := credential.OutcomeSuccess
		if err != nil {
			outcome = credential.OutcomeFailure
		}
		o.pool.Release(*credID, outcome)
		o.persistCredentialUsage(*credID)
	}
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		RawStatus:    res.RawStatus,
		ArtifactURL:  res.ArtifactURL,
		ErrorMessage: res.ErrorMessage,
	}
	switch poller.Normalize(res.RawStatus) {
	case poller.OutcomeSuccess:
		report.Status = models.UnitStatusCompleted
		report.Done = true
	case poller.OutcomeFailure:
		report.Status = models.UnitStatusFailed
		report.Done = true
	default:
		report.Status = models.UnitStatusGenerating
	}
	return report, nil
}

// secretFor resolves the credential secret to use for a raw status
// check. Drawing from the pool counts as one request against the
// credential's budget.
func (o *Orchestrator) secretFor(ctx context.Context, unitID *uuid.UUID) (string, *uuid.UUID, error) {
	if unitID != nil {
		o.mu.Lock()
		if jobID, ok := o.unitIndex[*unitID]; ok {
			if secret, ok := o.jobs[jobID].secrets[*unitID]; ok {
				o.mu.Unlock()
				return secret, nil, nil
			}
		}
		o.mu.Unlock()
	}

	cred, err := o.pool.Acquire(ctx)
	if err != nil {
		return "", nil, err
	}
	id := cred.ID
	return cred.Secret, &id, nil
}

// jobSnapshot is the cached restart image of one job.
type jobSnapshot struct {
	Job   models.Job    `json:"job"`
	Units []models.Unit `json:"units"`
}

// Recover reloads cached job snapshots after a restart and reconciles
// them against the history mirror: a unit whose mirror row already
// reached a terminal state adopts it; a unit that was still in flight
// is marked failed, since its poller run died with the old process.
// Recovered jobs stay resident so snapshots and retries keep working.
func (o *Orchestrator) Recover(ctx context.Context) error {
	ids, err := o.cache.ListJobSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("list job snapshots: %w", err)
	}

	for _, jobID := range ids {
		data, ok, err := o.cache.LoadJobSnapshot(ctx, jobID)
		if err != nil {
			slog.Warn("load job snapshot failed", "job_id", jobID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		var snap jobSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			slog.Warn("discarding corrupt job snapshot", "job_id", jobID, "error", err)
			o.clearSnapshot(jobID)
			continue
		}

		o.recoverJob(ctx, &snap)
		o.clearSnapshot(jobID)
	}
	return nil
}

func (o *Orchestrator) recoverJob(ctx context.Context, snap *jobSnapshot) {
	// The history mirror is authoritative for units the snapshot last
	// saw in flight; one job-scoped read covers all of them.
	mirror := make(map[uuid.UUID]*models.HistoryEntry)
	if entries, err := o.store.ListHistoryByJob(ctx, snap.Job.ID); err == nil {
		for _, e := range entries {
			mirror[e.UnitID] = e
		}
	} else {
		slog.Warn("history mirror unavailable during recovery", "job_id", snap.Job.ID, "error", err)
	}

	now := time.Now().UTC()
	failedCount := 0
	for i := range snap.Units {
		u := &snap.Units[i]
		if models.TerminalUnitStatus(u.Status) {
			if u.Status == models.UnitStatusFailed {
				failedCount++
			}
			continue
		}

		if entry := mirror[u.ID]; entry != nil && models.TerminalUnitStatus(entry.Status) {
			u.Status = entry.Status
			if entry.ArtifactURL != nil {
				u.ArtifactURL = *entry.ArtifactURL
			}
			u.ErrorMessage = entry.ErrorMessage
		} else {
			msg := "interrupted by restart"
			u.Status = models.UnitStatusFailed
			u.ErrorMessage = &msg
		}
		u.LastTransitionAt = now
		if u.Status == models.UnitStatusFailed {
			failedCount++
		}
		o.mirrorHistory(u)
	}

	status := models.JobStatusCompleted
	if failedCount == len(snap.Units) && len(snap.Units) > 0 {
		status = models.JobStatusFailed
	}
	snap.Job.Status = status
	snap.Job.UpdatedAt = now
	if snap.Job.CompletedAt == nil {
		snap.Job.CompletedAt = &now
	}

	js := &jobState{
		job:     &snap.Job,
		policy:  snap.Job.Policy,
		byID:    make(map[uuid.UUID]*models.Unit),
		cancels: make(map[uuid.UUID]context.CancelFunc),
		secrets: make(map[uuid.UUID]string),
		started: make(map[uuid.UUID]time.Time),
	}
	finalUnits := make([]models.Unit, 0, len(snap.Units))
	for i := range snap.Units {
		u := &snap.Units[i]
		js.units = append(js.units, u)
		js.byID[u.ID] = u
		finalUnits = append(finalUnits, *u.Clone())
	}

	o.mu.Lock()
	o.jobs[snap.Job.ID] = js
	for _, u := range js.units {
		o.unitIndex[u.ID] = snap.Job.ID
	}
	o.mu.Unlock()

	o.progress.Complete(snap.Job.ID, finalUnits)
	o.persistJobStatus(snap.Job.ID, status)
	slog.Info("job recovered", "job_id", snap.Job.ID, "status", status, "units", len(snap.Units))
}

// Shutdown stops accepting transitions, cancels every in-flight
// attempt and waits for poller goroutines to drain or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// persistCredentialUsage mirrors the pool's usage counters for one
// credential to the store so accounting survives a restart. Best
// effort, like the history mirror.
func (o *Orchestrator) persistCredentialUsage(id uuid.UUID) {
	cred, ok := o.pool.Get(id)
	if !ok {
		return
	}
	usedAt := time.Now().UTC()
	if cred.LastUsedAt != nil {
		usedAt = *cred.LastUsedAt
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if err := o.store.UpdateCredentialUsage(ctx, id, cred.RequestCount, usedAt); err != nil {
		slog.Warn("failed to persist credential usage", "credential_id", id, "error", err)
	}
}

// mirrorHistory writes the unit's durable mirror row. Best effort:
// failures are logged and never block the pipeline.
func (o *Orchestrator) mirrorHistory(u *models.Unit) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	entry := &models.HistoryEntry{
		UnitID:         u.ID,
		JobID:          u.JobID,
		SequenceNumber: u.SequenceNumber,
		Prompt:         u.Request.Prompt,
		AspectRatio:    u.Request.AspectRatio,
		Status:         u.Status,
		ErrorMessage:   u.ErrorMessage,
		CredentialID:   u.CredentialID,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.LastTransitionAt,
	}
	if u.ArtifactURL != "" {
		url := u.ArtifactURL
		entry.ArtifactURL = &url
	}
	if err := o.store.UpsertHistoryEntry(ctx, entry); err != nil {
		slog.Warn("history mirror write failed", "unit_id", u.ID, "error", err)
	}
}

func (o *Orchestrator) persistJobStatus(jobID uuid.UUID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := o.store.UpdateJobStatus(ctx, jobID, status); err != nil {
		slog.Warn("job status write failed", "job_id", jobID, "status", status, "error", err)
	}
}

// saveSnapshot writes the job's restart image to the cache. Best
// effort, like the history mirror.
func (o *Orchestrator) saveSnapshot(jobID uuid.UUID) {
	o.mu.Lock()
	js, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	snap := jobSnapshot{Job: *js.job}
	for _, u := range js.units {
		snap.Units = append(snap.Units, *u.Clone())
	}
	o.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("marshal job snapshot failed", "job_id", jobID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := o.cache.SaveJobSnapshot(ctx, jobID, data, snapshotTTL); err != nil {
		slog.Warn("save job snapshot failed", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) clearSnapshot(jobID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := o.cache.ClearJobSnapshot(ctx, jobID); err != nil {
		slog.Warn("clear job snapshot failed", "job_id", jobID, "error", err)
	}
}

func submitRequest(r models.UnitRequest) models.SubmitRequest {
	return models.SubmitRequest{
		Prompt:           r.Prompt,
		AspectRatio:      r.AspectRatio,
		SceneContext:     r.SceneContext,
		CharacterContext: r.CharacterContext,
	}
}

var _ poller.Sink = (*Orchestrator)(nil)
