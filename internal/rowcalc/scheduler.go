package rowcalc

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/matheus3301/threadline/internal/entity"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Job is one row to calculate. Message and neighbors are snapshots owned by
// the job.
type Job struct {
	Epoch      uint64
	Generation uint64
	Message    *entity.Message
	Neighbors  Neighbors
	Context    ThreadContext
}

// Result carries a model back to the owner together with the epoch and
// generation it was computed for, so stale results can be dropped.
type Result struct {
	Epoch      uint64
	Generation uint64
	Model      Model
}

// Scheduler runs jobs on a bounded worker pool and memoizes models by
// (epoch, token, generation).
type Scheduler struct {
	engine  *Engine
	workers int
	cache   *gocache.Cache
	logger  *zap.Logger
}

// NewScheduler creates a scheduler. workers <= 0 means GOMAXPROCS.
func NewScheduler(engine *Engine, workers int, logger *zap.Logger) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:  engine,
		workers: workers,
		cache:   gocache.New(2*time.Minute, 5*time.Minute),
		logger:  logger,
	}
}

func cacheKey(j Job) string {
	return fmt.Sprintf("%d/%s@%d", j.Epoch, j.Message.UniqueToken, j.Generation)
}

// Run calculates jobs and hands each result to deliver. It returns once
// every job ran or ctx is done; results for jobs not yet started when ctx
// ends are never delivered.
func (s *Scheduler) Run(ctx context.Context, jobs []Job, deliver func(Result)) {
	p := pool.New().WithMaxGoroutines(s.workers).WithContext(ctx)
	for _, j := range jobs {
		p.Go(func(ctx context.Context) error {
			if ctx.Err() != nil {
				return nil
			}
			deliver(s.calculate(j))
			return nil
		})
	}
	_ = p.Wait()
}

// Submit runs jobs in the background.
func (s *Scheduler) Submit(ctx context.Context, jobs []Job, deliver func(Result)) {
	if len(jobs) == 0 {
		return
	}
	go s.Run(ctx, jobs, deliver)
}

func (s *Scheduler) calculate(j Job) Result {
	key := cacheKey(j)
	if v, ok := s.cache.Get(key); ok {
		return Result{Epoch: j.Epoch, Generation: j.Generation, Model: v.(Model)}
	}
	m := s.engine.Calculate(j.Message, j.Context, j.Neighbors)
	m.Key.Generation = j.Generation
	s.cache.SetDefault(key, m)
	return Result{Epoch: j.Epoch, Generation: j.Generation, Model: m}
}

// Forget drops every memoized model.
func (s *Scheduler) Forget() {
	s.cache.Flush()
}
