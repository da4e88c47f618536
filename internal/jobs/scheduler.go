package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if this run still owns it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

type Job func(ctx context.Context) error

// Scheduler runs sweeps on cron specs. With Redis configured each run holds
// sweep:lock:<name> so only one replica sweeps at a time.
type Scheduler struct {
	cron    *cron.Cron
	redis   *redis.Client
	lockTTL time.Duration
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(rdb *redis.Client, loc *time.Location, lockTTL time.Duration, logger *zap.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		redis:   rdb,
		lockTTL: lockTTL,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) Register(name, spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.ctx, name, job) }); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.logger.Info("sweep scheduled", zap.String("sweep", name), zap.String("spec", spec))
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running sweeps to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()

	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// RunOnce runs job under the sweep lock. It reports false when another
// replica holds the lock or the lock could not be taken.
func (s *Scheduler) RunOnce(ctx context.Context, name string, job Job) bool {
	release, ok := s.acquire(ctx, name)
	if !ok {
		return false
	}
	defer release()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("sweep failed", zap.String("sweep", name), zap.Duration("took", time.Since(start)), zap.Error(err))
		return true
	}
	s.logger.Debug("sweep done", zap.String("sweep", name), zap.Duration("took", time.Since(start)))
	return true
}

func lockKey(name string) string {
	return "sweep:lock:" + name
}

func (s *Scheduler) acquire(ctx context.Context, name string) (func(), bool) {
	if s.redis == nil {
		return func() {}, true
	}

	key := lockKey(name)
	token := uuid.NewString()
	ok, err := s.redis.SetNX(ctx, key, token, s.lockTTL).Result()
	if err != nil {
		s.logger.Warn("sweep lock unavailable, skipping run", zap.String("sweep", name), zap.Error(err))
		return nil, false
	}
	if !ok {
		s.logger.Debug("sweep already running elsewhere", zap.String("sweep", name))
		return nil, false
	}

	return func() {
		// the job's ctx may be cancelled by shutdown; release regardless
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.redis.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
			s.logger.Warn("sweep lock release failed", zap.String("sweep", name), zap.Error(err))
		}
	}, true
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
