package cart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/logging"
)

// SyncerConfig tunes the background sync queue.
type SyncerConfig struct {
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	Timeout     time.Duration // per attempt
}

func (c SyncerConfig) withDefaults() SyncerConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

type syncTask struct {
	name string
	fn   func(ctx context.Context) error
}

// Syncer runs best-effort server sync tasks on one goroutine. Enqueue never blocks:
// when the queue is full the task is dropped and logged.
type Syncer struct {
	cfg    SyncerConfig
	logger *zap.Logger
	tasks  chan syncTask
	sleep  func(ctx context.Context, d time.Duration)

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncer starts the worker goroutine.
func NewSyncer(cfg SyncerConfig, logger *zap.Logger) *Syncer {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		cfg:    cfg,
		logger: logging.OrNop(logger),
		tasks:  make(chan syncTask, cfg.QueueSize),
		sleep:  sleepCtx,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue schedules fn. It reports false when the task was dropped.
func (s *Syncer) Enqueue(name string, fn func(ctx context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.tasks <- syncTask{name: name, fn: fn}:
		return true
	default:
		s.logger.Warn("cart sync queue full, dropping task", zap.String("task", name))
		return false
	}
}

// Close stops accepting tasks and waits until queued tasks have run.
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.tasks)
	s.mu.Unlock()
	<-s.done
	s.cancel()
}

func (s *Syncer) run() {
	defer close(s.done)
	for t := range s.tasks {
		s.runTask(t)
	}
}

func (s *Syncer) runTask(t syncTask) {
	backoff := s.cfg.BaseBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
		err := t.fn(ctx)
		cancel()
		if err == nil {
			return
		}
		if attempt >= s.cfg.MaxAttempts {
			s.logger.Error("cart sync failed, giving up",
				zap.String("task", t.name), zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		s.logger.Warn("cart sync failed, retrying",
			zap.String("task", t.name), zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		s.sleep(s.ctx, backoff)
		backoff *= 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
