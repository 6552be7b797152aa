package unitrt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/unitrt/bus"
	"github.com/GoCodeAlone/unitrt/config"
	"github.com/GoCodeAlone/unitrt/metrics"
	"golang.org/x/sync/errgroup"
)

// Stop outcomes reported to metrics.
const (
	stopOutcomeStopped = "stopped"
	stopOutcomeGone    = "gone"
	stopOutcomeTimeout = "timeout"
	stopOutcomeError   = "error"
)

// Orchestrator deploys the units in ascending priority waves and stops them
// in the reverse order. It runs as the bootstrap unit.
type Orchestrator struct {
	factory  *ContextFactory
	bus      bus.Bus
	logger   Logger
	metrics  *metrics.Metrics
	shutdown config.ShutdownConfig
	units    []*UnitDefinition
	configs  UnitConfigs

	state stateMachine

	mu           sync.Mutex
	deployed     map[string]*deployment
	waves        [][]string
	deployCancel context.CancelFunc
	deployDone   chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

type deployment struct {
	def       *UnitDefinition
	info      UnitRuntimeInfo
	instances map[string]*unitInstance
}

func newOrchestrator(r Resolver) (*Orchestrator, error) {
	factory, err := Resolve[*ContextFactory](r)
	if err != nil {
		return nil, err
	}
	b, err := Resolve[bus.Bus](r)
	if err != nil {
		return nil, err
	}
	logger, err := Resolve[Logger](r)
	if err != nil {
		return nil, err
	}
	m, err := Resolve[*metrics.Metrics](r)
	if err != nil {
		return nil, err
	}
	appConfig, err := Resolve[*config.ApplicationConfig](r)
	if err != nil {
		return nil, err
	}
	units, err := Resolve[[]*UnitDefinition](r)
	if err != nil {
		return nil, err
	}
	configs, err := Resolve[UnitConfigs](r)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		factory:  factory,
		bus:      b,
		logger:   logger,
		metrics:  m,
		shutdown: appConfig.Shutdown,
		units:    units,
		configs:  configs,
		deployed: make(map[string]*deployment),
		done:     make(chan struct{}),
	}, nil
}

// Start deploys every unit.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.Deploy(ctx)
}

// Stop stops every deployed unit.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.Shutdown(ctx)
}

// State returns the lifecycle stage.
func (o *Orchestrator) State() OrchestratorState { return o.state.load() }

// Done is closed once shutdown completed.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Deploy deploys the units wave by wave. Units of one wave deploy
// concurrently and the next wave starts once all of them finished. The first
// failure aborts the remaining waves and stops what was deployed.
func (o *Orchestrator) Deploy(ctx context.Context) error {
	if !o.state.transition(StateIdle, StateDeploying) {
		return fmt.Errorf("%w: %s", ErrOrchestratorNotIdle, o.State())
	}
	err := o.deploy(ctx)
	if err == nil {
		return nil
	}
	if o.State() == StateDeploying {
		o.logger.Error("Deployment failed, stopping deployed units", "error", err)
		if serr := o.Shutdown(context.WithoutCancel(ctx)); serr != nil {
			o.logger.Error("Shutdown after failed deployment failed", "error", serr)
		}
	}
	return err
}

func (o *Orchestrator) deploy(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.mu.Lock()
	o.deployCancel, o.deployDone = cancel, done
	o.mu.Unlock()
	defer close(done)
	defer cancel()

	start := time.Now()
	for _, wave := range unitWaves(o.units) {
		if o.State() != StateDeploying {
			return fmt.Errorf("%w: interrupted by shutdown", ErrUnitDeployFailed)
		}
		tags := make([]string, len(wave))
		for i, def := range wave {
			tags[i] = def.Tag
		}
		o.mu.Lock()
		o.waves = append(o.waves, tags)
		o.mu.Unlock()

		o.logger.Info("Deploying wave", "priority", wave[0].Priority, "units", tags)
		g, gctx := errgroup.WithContext(ctx)
		for _, def := range wave {
			g.Go(func() error { return o.deployUnit(gctx, def) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	if !o.state.transition(StateDeploying, StateRunning) {
		return fmt.Errorf("%w: interrupted by shutdown", ErrUnitDeployFailed)
	}
	elapsed := time.Since(start)
	o.metrics.DeployCompleted(elapsed)
	o.logger.Info("All units deployed", "units", len(o.units), "elapsed", elapsed)
	return nil
}

func (o *Orchestrator) deployUnit(ctx context.Context, def *UnitDefinition) error {
	n := def.Instances
	if cfg, ok := o.configs[def.ConfigName]; ok && cfg != nil {
		if !cfg.Enable {
			o.logger.Info("Unit disabled by configuration", "unit", def.Tag, "config", def.ConfigName)
			return nil
		}
		if cfg.Instances > 0 {
			n = cfg.Instances
		}
	}

	dep := &deployment{
		def: def,
		info: UnitRuntimeInfo{
			Tag:          def.Tag,
			Type:         typeName(def.Type),
			DeploymentID: bus.NewID(),
			Priority:     def.Priority,
			DeployedAt:   time.Now(),
		},
		instances: make(map[string]*unitInstance, n),
	}
	o.mu.Lock()
	o.deployed[def.Tag] = dep
	o.mu.Unlock()

	for i := 0; i < n; i++ {
		inst, err := deployInstance(ctx, o.factory, def)
		if err != nil {
			return err
		}
		o.mu.Lock()
		dep.instances[inst.ctx.InstanceID()] = inst
		o.mu.Unlock()
	}
	o.metrics.UnitInstances(def.Tag, n)
	o.logger.Info("Unit deployed", "unit", def.Tag, "instances", n, "deployment", dep.info.DeploymentID)
	return nil
}

// Shutdown stops the deployed units wave by wave, in the reverse order of
// deployment. A deployment in progress is cancelled first. Shutdown runs
// once; later calls wait for it and return its result. Exceeding the
// configured ceiling returns ErrShutdownTimeout without waiting further.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		o.shutdownErr = o.stopAll(ctx)
		o.state.advance(StateStopped)
		close(o.done)
	})
	return o.shutdownErr
}

func (o *Orchestrator) stopAll(ctx context.Context) error {
	o.state.advance(StateStopRequested)
	ctx, stop := context.WithTimeout(ctx, o.shutdown.Ceiling)
	defer stop()

	o.mu.Lock()
	cancel, deployDone := o.deployCancel, o.deployDone
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-deployDone:
		case <-ctx.Done():
			o.logger.Error("Deployment did not yield within shutdown ceiling", "ceiling", o.shutdown.Ceiling)
			return fmt.Errorf("%w: %s", ErrShutdownTimeout, o.shutdown.Ceiling)
		}
	}

	o.state.advance(StateStopping)

	o.mu.Lock()
	waves := slices.Clone(o.waves)
	o.mu.Unlock()
	slices.Reverse(waves)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for _, wave := range waves {
			o.stopWave(ctx, wave)
		}
	}()
	select {
	case <-finished:
		if ctx.Err() == nil {
			o.logger.Info("All units stopped")
			return nil
		}
	case <-ctx.Done():
	}
	o.logger.Error("Shutdown exceeded ceiling", "ceiling", o.shutdown.Ceiling)
	return fmt.Errorf("%w: %s", ErrShutdownTimeout, o.shutdown.Ceiling)
}

// stopWave asks every instance of the wave's units to stop and waits for
// the replies, each bounded by the stop request timeout. A fallback stop is
// then broadcast to every instance that was asked.
func (o *Orchestrator) stopWave(ctx context.Context, tags []string) {
	type target struct {
		tag string
		ids []string
	}
	var targets []target
	for _, tag := range tags {
		ids, ok := o.instanceIDs(tag)
		if !ok {
			continue
		}
		targets = append(targets, target{tag: tag, ids: ids})
	}
	if len(targets) == 0 {
		return
	}

	var g errgroup.Group
	for _, t := range targets {
		for _, id := range t.ids {
			g.Go(func() error {
				o.requestStop(ctx, t.tag, id)
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, t := range targets {
		o.broadcastStop(ctx, t.ids)
		o.forget(t.tag)
	}
}

// Undeploy stops one unit outside of the wave order.
func (o *Orchestrator) Undeploy(ctx context.Context, tag string) error {
	ids, ok := o.instanceIDs(tag)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, tag)
	}
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			o.requestStop(ctx, tag, id)
			return nil
		})
	}
	_ = g.Wait()
	o.broadcastStop(ctx, ids)
	o.forget(tag)
	return nil
}

func (o *Orchestrator) requestStop(ctx context.Context, tag, id string) {
	ctx, cancel := context.WithTimeout(ctx, o.shutdown.StopRequestTimeout)
	defer cancel()

	msg, err := bus.NewMessage(stopMessageType, BootstrapTag, nil)
	if err == nil {
		_, err = o.bus.Request(ctx, StopAddress(id), msg)
	}
	outcome := stopOutcomeStopped
	switch {
	case err == nil:
	case errors.Is(err, bus.ErrNoHandlers):
		outcome = stopOutcomeGone
	case errors.Is(err, bus.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		outcome = stopOutcomeTimeout
		o.logger.Warn("Unit instance did not confirm stop in time", "unit", tag, "instance", id, "timeout", o.shutdown.StopRequestTimeout)
	default:
		outcome = stopOutcomeError
		o.logger.Warn("Stop request failed", "unit", tag, "instance", id, "error", err)
	}
	o.metrics.UnitStopped(outcome)
}

func (o *Orchestrator) broadcastStop(ctx context.Context, ids []string) {
	for _, id := range ids {
		msg, err := bus.NewMessage(stopMessageType, BootstrapTag, nil)
		if err == nil {
			err = o.bus.Publish(ctx, StopAddress(id), msg)
		}
		if err != nil {
			o.logger.Debug("Fallback stop not delivered", "instance", id, "error", err)
		}
	}
}

func (o *Orchestrator) instanceIDs(tag string) ([]string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	dep, ok := o.deployed[tag]
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(dep.instances))
	for id := range dep.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, true
}

func (o *Orchestrator) forget(tag string) {
	o.mu.Lock()
	delete(o.deployed, tag)
	o.mu.Unlock()
	o.metrics.UnitInstances(tag, 0)
}

// unitStopped removes an instance that finished its stop sequence. A unit
// without instances left is forgotten, so later waves treat it as stopped.
func (o *Orchestrator) unitStopped(e *UnitStoppedEvent) {
	o.mu.Lock()
	dep, ok := o.deployed[e.Tag]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(dep.instances, e.InstanceID)
	remaining := len(dep.instances)
	if remaining == 0 {
		delete(o.deployed, e.Tag)
	}
	o.mu.Unlock()

	o.metrics.UnitInstances(e.Tag, remaining)
	o.logger.Debug("Unit instance deregistered", "unit", e.Tag, "instance", e.InstanceID, "remaining", remaining)
}

// Units returns the deployed units ordered by priority and tag.
func (o *Orchestrator) Units() []UnitRuntimeInfo {
	o.mu.Lock()
	out := make([]UnitRuntimeInfo, 0, len(o.deployed))
	for _, dep := range o.deployed {
		info := dep.info
		info.Instances = make([]string, 0, len(dep.instances))
		for id := range dep.instances {
			info.Instances = append(info.Instances, id)
		}
		sort.Strings(info.Instances)
		out = append(out, info)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// Waves returns the tags of each deployed wave, in deployment order.
func (o *Orchestrator) Waves() [][]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][]string, len(o.waves))
	for i, w := range o.waves {
		out[i] = slices.Clone(w)
	}
	return out
}

// unitWaves groups units by priority, ascending.
func unitWaves(units []*UnitDefinition) [][]*UnitDefinition {
	sorted := slices.Clone(units)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	var waves [][]*UnitDefinition
	for _, def := range sorted {
		if n := len(waves); n > 0 && waves[n-1][0].Priority == def.Priority {
			waves[n-1] = append(waves[n-1], def)
			continue
		}
		waves = append(waves, []*UnitDefinition{def})
	}
	return waves
}
