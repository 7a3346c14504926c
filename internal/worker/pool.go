// Package worker runs jobs. A [Pool] bounds how many jobs run at once and
// tracks the running ones; [Server] exposes the pool over HTTP together with
// the health probes and the metrics scrape endpoint.
package worker

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/parley/internal/entrypoint"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/room"
)

var (
	// ErrAtCapacity is returned by Submit when MaxJobs jobs are running.
	ErrAtCapacity = errors.New("worker: at capacity")

	// ErrDraining is returned by Submit once Drain has been called.
	ErrDraining = errors.New("worker: draining")
)

// Handler runs one job to completion.
type Handler interface {
	HandleJob(ctx context.Context, job entrypoint.JobContext) error
}

// JobInfo describes a running job.
type JobInfo struct {
	ID        string    `json:"job_id"`
	Room      string    `json:"room"`
	StartedAt time.Time `json:"started_at"`
}

// job binds a room name to the connector that joins it.
type job struct {
	info      JobInfo
	connector room.Connector
}

var _ entrypoint.JobContext = (*job)(nil)

func (j *job) ID() string       { return j.info.ID }
func (j *job) RoomName() string { return j.info.Room }

func (j *job) Connect(ctx context.Context) (room.Room, error) {
	return j.connector.Connect(ctx, j.info.Room)
}

// Option configures a [Pool].
type Option func(*Pool)

// WithMaxJobs bounds concurrently running jobs. Zero means unlimited.
func WithMaxJobs(n int) Option {
	return func(p *Pool) { p.maxJobs = n }
}

// WithMetrics records rejected jobs on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// Pool runs jobs on handler, joining rooms through connector.
// It is safe for concurrent use.
type Pool struct {
	handler   Handler
	connector room.Connector
	maxJobs   int
	sem       *semaphore.Weighted
	metrics   *observe.Metrics
	log       *slog.Logger

	// ctx is the parent of every job context; cancel aborts running jobs.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	active   map[string]JobInfo
	draining bool
}

// New returns a Pool.
func New(handler Handler, connector room.Connector, opts ...Option) *Pool {
	p := &Pool{
		handler:   handler,
		connector: connector,
		log:       slog.Default(),
		active:    make(map[string]JobInfo),
	}
	for _, o := range opts {
		o(p)
	}
	if p.maxJobs > 0 {
		p.sem = semaphore.NewWeighted(int64(p.maxJobs))
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Submit starts a job for roomName in the background and returns its
// description. It never waits for capacity.
func (p *Pool) Submit(roomName string) (JobInfo, error) {
	info, err := p.admit(roomName)
	if err != nil {
		return JobInfo{}, err
	}
	go p.run(p.ctx, info)
	return info, nil
}

// Run runs a job for roomName in the foreground and returns its result.
// Cancelling ctx ends the job.
func (p *Pool) Run(ctx context.Context, roomName string) error {
	info, err := p.admit(roomName)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()
	return p.run(ctx, info)
}

func (p *Pool) admit(roomName string) (JobInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		p.reject()
		return JobInfo{}, ErrDraining
	}
	if p.sem != nil && !p.sem.TryAcquire(1) {
		p.reject()
		return JobInfo{}, ErrAtCapacity
	}
	info := JobInfo{ID: uuid.NewString(), Room: roomName, StartedAt: time.Now().UTC()}
	p.active[info.ID] = info
	p.wg.Add(1)
	return info, nil
}

func (p *Pool) reject() {
	if p.metrics != nil {
		p.metrics.RecordJob(context.Background(), "rejected")
	}
}

func (p *Pool) run(ctx context.Context, info JobInfo) error {
	defer func() {
		p.mu.Lock()
		delete(p.active, info.ID)
		p.mu.Unlock()
		if p.sem != nil {
			p.sem.Release(1)
		}
		p.wg.Done()
	}()

	log := p.log.With("job_id", info.ID, "room", info.Room)
	log.Info("worker: job started")
	err := p.handler.HandleJob(ctx, &job{info: info, connector: p.connector})
	log.Info("worker: job ended", "outcome", entrypoint.Outcome(err), "elapsed", time.Since(info.StartedAt).Round(time.Millisecond))
	return err
}

// Active returns the running jobs, oldest first.
func (p *Pool) Active() []JobInfo {
	p.mu.Lock()
	jobs := make([]JobInfo, 0, len(p.active))
	for _, j := range p.active {
		jobs = append(jobs, j)
	}
	p.mu.Unlock()
	slices.SortFunc(jobs, func(a, b JobInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return jobs
}

// Full reports whether a Submit would be rejected for capacity.
func (p *Pool) Full() bool {
	if p.maxJobs <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active) >= p.maxJobs
}

// Drain stops accepting jobs and waits for the running ones. When ctx ends
// first, the running jobs are cancelled and Drain returns ctx.Err() once
// they have returned.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	n := len(p.active)
	p.mu.Unlock()
	p.log.Info("worker: draining", "running", n)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.log.Warn("worker: drain timeout, cancelling jobs")
		p.cancel()
		<-done
		return ctx.Err()
	}
}
