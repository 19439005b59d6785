// Package warmup schedules and processes background cache-warm jobs over the
// same Redis instance that backs the cache.
package warmup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/wellintake/manifestcache/internal/logging"
	"github.com/wellintake/manifestcache/internal/manifest"
)

// TypeCacheWarm is the task type for cache warmup jobs
const TypeCacheWarm = "cache:warm"

// queueName is the asynq queue warmup tasks land on
const queueName = "manifestcache"

// Payload is the warmup task body; an empty environment list warms all
type Payload struct {
	Environments []string `json:"environments,omitempty"`
}

// redisOptFromURL builds the asynq connection options from a redis URL
func redisOptFromURL(url string) (asynq.RedisClientOpt, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("invalid redis URL for warmup queue: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}, nil
}

// Scheduler enqueues warmup tasks. All scheduling is best-effort: callers
// treat a failed enqueue exactly like a failed cache write.
type Scheduler struct {
	client *asynq.Client
	logger *logging.Logger
}

// NewScheduler creates a warmup scheduler against the given Redis URL
func NewScheduler(redisURL string) (*Scheduler, error) {
	opt, err := redisOptFromURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		client: asynq.NewClient(opt),
		logger: logging.NewLogger("warmup-scheduler"),
	}, nil
}

// Schedule enqueues one warmup task for the given environments
func (s *Scheduler) Schedule(ctx context.Context, environments []string) error {
	payload, err := json.Marshal(Payload{Environments: environments})
	if err != nil {
		return fmt.Errorf("failed to encode warmup payload: %w", err)
	}

	task := asynq.NewTask(TypeCacheWarm, payload)
	info, err := s.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(2),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue warmup task: %w", err)
	}

	s.logger.Infof("Scheduled cache warmup task %s", info.ID)
	return nil
}

// Close releases the scheduler's Redis connection
func (s *Scheduler) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close warmup scheduler: %w", err)
	}
	return nil
}

// Worker processes warmup tasks by pre-generating manifests
type Worker struct {
	srv     *asynq.Server
	service *manifest.Service
	logger  *logging.Logger
}

// NewWorker creates a warmup worker against the given Redis URL
func NewWorker(redisURL string, service *manifest.Service) (*Worker, error) {
	opt, err := redisOptFromURL(redisURL)
	if err != nil {
		return nil, err
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{queueName: 1},
		LogLevel:    asynq.ErrorLevel,
	})

	return &Worker{
		srv:     srv,
		service: service,
		logger:  logging.NewLogger("warmup-worker"),
	}, nil
}

// Start begins processing warmup tasks in the background
func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeCacheWarm, w.handleWarm)

	if err := w.srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start warmup worker: %w", err)
	}
	w.logger.Infof("Warmup worker started")
	return nil
}

// Shutdown stops the worker, waiting for in-flight tasks
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

// handleWarm runs one warmup task
func (w *Worker) handleWarm(ctx context.Context, task *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("malformed warmup payload: %w", err)
	}

	results := w.service.WarmCache(ctx, payload.Environments)
	for env, r := range results {
		w.logger.Infof("Warmed %s: %d ok, %d errors", env, r.Success, r.Errors)
	}
	return nil
}
