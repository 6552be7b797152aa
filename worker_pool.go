package unitrt

import (
	"context"
	"sync"
	"time"

	"github.com/GoCodeAlone/unitrt/config"
)

// ExecutorConfigPrefix is the configuration section of ExecutorConfig.
const ExecutorConfigPrefix = "unitrt.event.executor"

// ExecutorConfig controls the worker pool listeners run on. When the pool is
// disabled listeners run on the bus delivery goroutine.
type ExecutorConfig struct {
	Enable bool `yaml:"enable"`
	// Ordered runs every listener invocation on a single worker, in
	// submission order.
	Ordered  bool   `yaml:"ordered" default:"true"`
	Name     string `yaml:"name" default:"eventbus-event"`
	PoolSize int    `yaml:"poolSize" default:"2" validate:"gte=1"`
	// MaxExecuteTime is the deadline of the context handed to a listener.
	// Invocations running longer are logged.
	MaxExecuteTime time.Duration `yaml:"maxExecuteTime" default:"60s" validate:"gt=0"`
	QueueSize      int           `yaml:"queueSize" default:"1024" validate:"gte=1"`
}

// DefaultExecutorConfig returns an ExecutorConfig holding the defaults.
func DefaultExecutorConfig() (*ExecutorConfig, error) {
	cfg := &ExecutorConfig{}
	if err := config.ProcessDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type workerPool struct {
	cfg    ExecutorConfig
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan func(ctx context.Context)
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newWorkerPool(cfg ExecutorConfig, logger Logger) *workerPool {
	workers := cfg.PoolSize
	if cfg.Ordered || workers < 1 {
		workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	p := &workerPool{
		cfg:    cfg,
		logger: logger,
		tasks:  make(chan func(ctx context.Context), cfg.QueueSize),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues task, blocking while the queue is full. It reports false
// once the pool is closed.
func (p *workerPool) Submit(task func(ctx context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.tasks <- task
	return true
}

// Close runs the queued tasks and stops the workers.
func (p *workerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *workerPool) run(task func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.MaxExecuteTime)
	defer cancel()
	start := time.Now()
	task(ctx)
	if elapsed := time.Since(start); elapsed > p.cfg.MaxExecuteTime {
		p.logger.Warn("Event listener exceeded max execute time", "pool", p.cfg.Name, "elapsed", elapsed, "max", p.cfg.MaxExecuteTime)
	}
}
