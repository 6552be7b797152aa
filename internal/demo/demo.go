// Package demo is the catalog the unitrt command runs when no other program
// embeds the runtime. Greeter instances publish greetings on a timer and the
// audit unit counts them.
package demo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/unitrt"
)

// Greeting is the payload greeters publish.
type Greeting struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// GreeterConfig is the deploy configuration of the greeter unit.
type GreeterConfig struct {
	unitrt.UnitBaseConfig `yaml:",inline"`
	Message               string        `yaml:"message" default:"hello"`
	Interval              time.Duration `yaml:"interval" default:"5s" validate:"gt=0"`
}

// Formatter renders greeting text.
type Formatter interface {
	Format(msg string) string
}

type plainFormatter struct{}

func (plainFormatter) Format(msg string) string { return msg }

type shoutFormatter struct{}

func (shoutFormatter) Format(msg string) string { return strings.ToUpper(msg) + "!" }

// GreeterUnit publishes a greeting every interval.
type GreeterUnit struct {
	ctx       *unitrt.Context
	cfg       *GreeterConfig
	formatter Formatter
	logger    unitrt.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGreeterUnit builds a greeter from its context.
func NewGreeterUnit(r unitrt.Resolver) (*GreeterUnit, error) {
	c, err := unitrt.Resolve[*unitrt.Context](r)
	if err != nil {
		return nil, err
	}
	cfg, err := unitrt.Resolve[*GreeterConfig](r)
	if err != nil {
		return nil, err
	}
	f, err := unitrt.Resolve[Formatter](r)
	if err != nil {
		return nil, err
	}
	return &GreeterUnit{ctx: c, cfg: cfg, formatter: f, logger: c.Logger()}, nil
}

// Start begins publishing.
func (g *GreeterUnit) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.ctx.RegisterStopHandler(0, func(context.Context) error {
		cancel()
		g.wg.Wait()
		return nil
	})

	g.wg.Add(1)
	go g.loop(ctx)
	g.logger.Info("Greeter started", "instance", g.ctx.DisplayName(), "interval", g.cfg.Interval)
	return nil
}

func (g *GreeterUnit) loop(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			greeting := Greeting{From: g.ctx.DisplayName(), Text: g.formatter.Format(g.cfg.Message)}
			if err := g.ctx.PublishPayload(ctx, greeting, false); err != nil {
				g.logger.Warn("Failed to publish greeting", "error", err)
			}
		}
	}
}

// Stop is called after the stop handlers ran.
func (g *GreeterUnit) Stop(context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}
	g.logger.Info("Greeter stopped", "instance", g.ctx.DisplayName())
	return nil
}

// AuditUnit counts the greetings it receives per sender.
type AuditUnit struct {
	Logger unitrt.Logger `inject:""`

	total atomic.Int64
	mu    sync.Mutex
	seen  map[string]int
}

// Start implements unitrt.Unit.
func (a *AuditUnit) Start(context.Context) error {
	a.mu.Lock()
	a.seen = make(map[string]int)
	a.mu.Unlock()
	return nil
}

// Stop logs the final tally.
func (a *AuditUnit) Stop(context.Context) error {
	a.Logger.Info("Audit finished", "greetings", a.total.Load(), "senders", len(a.Senders()))
	return nil
}

func (a *AuditUnit) record(g Greeting) {
	a.total.Add(1)
	a.mu.Lock()
	if a.seen == nil {
		a.seen = make(map[string]int)
	}
	a.seen[g.From]++
	a.mu.Unlock()
}

// Total returns the number of greetings received.
func (a *AuditUnit) Total() int64 { return a.total.Load() }

// Senders returns the greeting count per sender.
func (a *AuditUnit) Senders() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.seen))
	for k, v := range a.seen {
		out[k] = v
	}
	return out
}

// Catalog returns the demo registrations.
func Catalog() *unitrt.Catalog {
	return unitrt.NewCatalog(
		unitrt.DeployUnit(NewGreeterUnit,
			unitrt.UnitTag("greeter"), unitrt.Priority(0), unitrt.Instances(2), unitrt.EventSource("greeter")),
		unitrt.DeployUnit[*AuditUnit](nil,
			unitrt.UnitTag("audit"), unitrt.Priority(1), unitrt.EventSource("audit")),

		unitrt.Properties[GreeterConfig]("demo.greeter", unitrt.Named("greeter")),
		unitrt.Implements[Formatter](func(unitrt.Resolver) (plainFormatter, error) { return plainFormatter{}, nil },
			unitrt.Named("plain"), unitrt.Primary()),
		unitrt.Implements[Formatter](func(unitrt.Resolver) (shoutFormatter, error) { return shoutFormatter{}, nil },
			unitrt.Named("shout")),

		unitrt.OnPayload(func(_ context.Context, a *AuditUnit, g Greeting) error {
			a.record(g)
			return nil
		}, unitrt.Sources("greeter")),
		unitrt.OnEvent(func(_ context.Context, a *AuditUnit, e *unitrt.ConfigUpdatedEvent) error {
			a.Logger.Info("Configuration changed", "keys", fmt.Sprint(e.Changed))
			return nil
		}),
	)
}
