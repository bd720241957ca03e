package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/MimeLyc/kicad-prism/internal/metrics"
	"github.com/MimeLyc/kicad-prism/pkg/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	defaultWorkers = 4
	defaultMaxJobs = 1000
	defaultTTL     = time.Hour
)

type record struct {
	id     string
	work   Work
	logger *log.Logger

	mu        sync.Mutex
	job       Job
	startedAt time.Time
	cleanups  []func()
	deleted   bool
}

func (r *record) snapshot() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneJob(&r.job)
}

// Registry owns every job record of the process and the workers that run them.
type Registry struct {
	workerCount int
	maxJobs     int
	ttl         time.Duration
	now         func() time.Time

	mu         sync.RWMutex
	records    map[string]*record
	started    bool
	pendingIDs chan string
	reaper     *cron.Cron

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Registry)

func WithWorkers(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.workerCount = n
		}
	}
}

// WithMaxJobs bounds the number of retained records; the oldest finished
// jobs are pruned first.
func WithMaxJobs(n int) Option {
	return func(r *Registry) {
		r.maxJobs = n
	}
}

// WithTTL sets how long finished reapable jobs are kept.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		workerCount: defaultWorkers,
		maxJobs:     defaultMaxJobs,
		ttl:         defaultTTL,
		now:         time.Now,
		records:     make(map[string]*record),
		pendingIDs:  make(chan string, 1024),
		ctx:         ctx,
		cancel:      cancel,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit creates a pending job and schedules work on the worker pool.
func (r *Registry) Submit(kind Kind, subject string, work Work) *Job {
	now := r.now()
	id := uuid.NewString()
	rec := &record{
		id:   id,
		work: work,
		logger: log.GetLogger().With(map[string]any{
			"job_id": id,
			"kind":   string(kind),
		}),
		job: Job{
			ID:        id,
			Kind:      kind,
			Subject:   subject,
			Status:    StatusPending,
			Message:   "Queued",
			Logs:      []string{},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	r.mu.Lock()
	r.records[id] = rec
	started := r.started
	r.mu.Unlock()

	metrics.JobSubmitted(string(kind))
	log.Info("Job %s (%s) submitted for %s", id, kind, subject)
	if started {
		r.enqueuePendingID(id)
	}
	return rec.snapshot()
}

func (r *Registry) Get(id string) (*Job, error) {
	rec, ok := r.lookup(id)
	if !ok {
		return nil, errs.New(errs.KindNotFound, "job %s not found", id)
	}
	return rec.snapshot(), nil
}

// List returns snapshots of all jobs, oldest first.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	ret := make([]*Job, 0, len(recs))
	for _, rec := range recs {
		ret = append(ret, rec.snapshot())
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// Delete removes the job from the registry. Cleanups owned by the job run
// immediately when it is not running, otherwise as soon as its work returns.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if ok {
		delete(r.records, id)
	}
	r.mu.Unlock()
	if !ok {
		return errs.New(errs.KindNotFound, "job %s not found", id)
	}

	r.release(rec)
	log.Info("Job %s deleted", id)
	return nil
}

func (r *Registry) release(rec *record) {
	rec.mu.Lock()
	rec.deleted = true
	var run []func()
	if rec.job.Status != StatusRunning {
		run = rec.cleanups
		rec.cleanups = nil
	}
	rec.mu.Unlock()
	runCleanups(rec.id, run)
}

func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true

	pending := make([]*Job, 0)
	for _, rec := range r.records {
		snap := rec.snapshot()
		if snap.Status == StatusPending {
			pending = append(pending, snap)
		}
	}
	r.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	for _, job := range pending {
		r.enqueuePendingID(job.ID)
	}

	for range r.workerCount {
		r.wg.Add(1)
		go r.worker()
	}
}

// StartReaper schedules Reap with a cron expression such as "@every 1m".
func (r *Registry) StartReaper(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if n := r.Reap(); n > 0 {
			log.Info("Reaped %d finished job(s)", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule job reaper %q: %w", schedule, err)
	}

	r.mu.Lock()
	if r.reaper != nil {
		r.mu.Unlock()
		return nil
	}
	r.reaper = c
	r.mu.Unlock()

	c.Start()
	return nil
}

// Stop halts the reaper and the workers. Work still running sees its
// context cancelled and Stop waits for it to return.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		reaper := r.reaper
		r.mu.Unlock()
		if reaper != nil {
			<-reaper.Stop().Done()
		}
		close(r.stopCh)
		r.cancel()
		r.wg.Wait()
	})
}

// Reap removes finished reapable jobs whose last update is older than the TTL.
func (r *Registry) Reap() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	expired := make([]*record, 0)
	for id, rec := range r.records {
		rec.mu.Lock()
		stale := rec.job.Kind.Reapable() &&
			rec.job.Status.Terminal() &&
			rec.job.UpdatedAt.Before(cutoff)
		rec.mu.Unlock()
		if stale {
			delete(r.records, id)
			expired = append(expired, rec)
		}
	}
	r.mu.Unlock()

	for _, rec := range expired {
		r.release(rec)
	}
	return len(expired)
}

func (r *Registry) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case id := <-r.pendingIDs:
			rec, ok := r.markRunning(id)
			if !ok {
				continue
			}
			r.run(rec)
		}
	}
}

func (r *Registry) run(rec *record) {
	h := &Handle{reg: r, rec: rec}

	var result any
	err := errs.SafeExecute(func() error {
		var err error
		result, err = rec.work(r.ctx, h)
		return err
	})
	if err != nil {
		r.markFailed(rec, err)
	} else {
		r.markCompleted(rec, result)
	}
	r.pruneTerminalJobs()
}

func (r *Registry) enqueuePendingID(id string) {
	select {
	case r.pendingIDs <- id:
	default:
		go func() {
			select {
			case r.pendingIDs <- id:
			case <-r.stopCh:
			}
		}()
	}
}

func (r *Registry) lookup(id string) (*record, bool) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	return rec, ok
}

func (r *Registry) markRunning(id string) (*record, bool) {
	rec, ok := r.lookup(id)
	if !ok {
		return nil, false
	}

	rec.mu.Lock()
	if rec.job.Status != StatusPending || rec.deleted {
		rec.mu.Unlock()
		return nil, false
	}
	now := r.now()
	rec.job.Status = StatusRunning
	rec.job.Message = "Running"
	rec.job.UpdatedAt = now
	rec.startedAt = now
	kind := rec.job.Kind
	rec.mu.Unlock()

	metrics.JobStarted(string(kind))
	return rec, true
}

func (r *Registry) markCompleted(rec *record, result any) {
	r.finish(rec, func(job *Job) {
		job.Status = StatusCompleted
		job.Percent = 100
		job.Result = result
		job.Error = ""
		if job.Message == "" || job.Message == "Running" {
			job.Message = "Completed"
		}
	})
}

func (r *Registry) markFailed(rec *record, err error) {
	r.finish(rec, func(job *Job) {
		job.Status = StatusFailed
		job.Result = nil
		job.Error = err.Error()
		job.Message = "Failed"
		job.Logs = append(job.Logs, "Error: "+err.Error())
	})
}

func (r *Registry) finish(rec *record, apply func(job *Job)) {
	rec.mu.Lock()
	if rec.job.Status != StatusRunning {
		rec.mu.Unlock()
		return
	}
	now := r.now()
	apply(&rec.job)
	rec.job.UpdatedAt = now
	rec.job.FinishedAt = &now
	kind, status := rec.job.Kind, rec.job.Status
	errMsg := rec.job.Error
	took := elapsedSince(rec.startedAt, now)
	var run []func()
	if rec.deleted {
		run = rec.cleanups
		rec.cleanups = nil
	}
	rec.mu.Unlock()

	metrics.JobFinished(string(kind), string(status), took)
	if status == StatusFailed {
		log.Warn("Job %s (%s) failed after %s: %s", rec.id, kind, took.Round(time.Millisecond), errMsg)
	} else {
		log.Info("Job %s (%s) completed in %s", rec.id, kind, took.Round(time.Millisecond))
	}
	runCleanups(rec.id, run)
}

func (r *Registry) pruneTerminalJobs() {
	r.mu.Lock()
	if r.maxJobs <= 0 || len(r.records) <= r.maxJobs {
		r.mu.Unlock()
		return
	}

	type candidate struct {
		rec       *record
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(r.records))
	for _, rec := range r.records {
		rec.mu.Lock()
		if rec.job.Kind.Reapable() && rec.job.Status.Terminal() {
			terminal = append(terminal, candidate{rec: rec, updatedAt: rec.job.UpdatedAt})
		}
		rec.mu.Unlock()
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(r.records)-r.maxJobs, len(terminal))
	pruned := make([]*record, 0, max(toRemove, 0))
	for i := 0; i < toRemove; i++ {
		delete(r.records, terminal[i].rec.id)
		pruned = append(pruned, terminal[i].rec)
	}
	r.mu.Unlock()

	for _, rec := range pruned {
		r.release(rec)
	}
}
