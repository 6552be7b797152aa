package unitrt

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/unitrt/bus"
	"golang.org/x/sync/errgroup"
)

// StopAddressPrefix prefixes the stop address of every unit instance.
const StopAddressPrefix = "unitrt.unit.stop."

const (
	stopMessageType = "unitrt.unit.stop"
	stopReplyType   = "unitrt.unit.stopped"
)

// StopAddress returns the address a unit instance receives stop requests on.
func StopAddress(instanceID string) string {
	return StopAddressPrefix + instanceID
}

// unitInstance is one running instance of a unit and its context.
type unitInstance struct {
	def  *UnitDefinition
	ctx  *Context
	unit Unit
	sub  bus.Subscription

	once sync.Once
	done chan struct{}
}

// deployInstance refreshes a new context for def and starts the unit in it.
// The instance is registered once its early events have been drained.
func deployInstance(ctx context.Context, f *ContextFactory, def *UnitDefinition) (*unitInstance, error) {
	c := f.NewContext(def)
	fail := func(err error) (*unitInstance, error) {
		if cerr := c.Close(); cerr != nil {
			c.logger.Warn("Failed to close context of failed unit", "context", c.DisplayName(), "error", cerr)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnitDeployFailed, def.Tag, err)
	}

	if err := c.Prepare(); err != nil {
		return fail(err)
	}
	if err := c.Bind(); err != nil {
		return fail(err)
	}
	if err := c.Refresh(ctx); err != nil {
		return fail(err)
	}
	v, err := c.Get(def.BeanKey())
	if err != nil {
		return fail(err)
	}
	unit, ok := v.(Unit)
	if !ok {
		return fail(fmt.Errorf("%w: %T", ErrNotAUnit, v))
	}
	if opener, ok := unit.(Opener); ok {
		if err := opener.Open(ctx); err != nil {
			return fail(fmt.Errorf("open: %w", err))
		}
	}
	if err := unit.Start(ctx); err != nil {
		return fail(fmt.Errorf("start: %w", err))
	}

	inst := &unitInstance{def: def, ctx: c, unit: unit, done: make(chan struct{})}
	sub, err := c.bus.Consumer(StopAddress(c.InstanceID()), inst.handleStop)
	if err != nil {
		inst.stop(ctx)
		return nil, fmt.Errorf("%w: %s: stop consumer: %w", ErrUnitDeployFailed, def.Tag, err)
	}
	inst.sub = sub
	if err := c.FinishRefresh(ctx); err != nil {
		inst.stop(ctx)
		return nil, fmt.Errorf("%w: %s: %w", ErrUnitDeployFailed, def.Tag, err)
	}
	f.Contexts().Register(def.Tag, c)
	c.logger.Info("Unit instance started", "unit", def.Tag, "instance", c.InstanceID())
	return inst, nil
}

func (u *unitInstance) handleStop(ctx context.Context, d *bus.Delivery) {
	u.stop(ctx)
	if d.ExpectsReply() {
		reply, err := bus.NewMessage(stopReplyType, u.ctx.EventSource(), nil)
		if err == nil {
			err = d.Reply(reply)
		}
		if err != nil {
			u.ctx.logger.Warn("Failed to reply to stop request", "unit", u.def.Tag, "instance", u.ctx.InstanceID(), "error", err)
		}
	}
	if u.sub != nil {
		if err := u.sub.Unsubscribe(); err != nil {
			u.ctx.logger.Warn("Failed to remove stop consumer", "unit", u.def.Tag, "error", err)
		}
	}
}

// stop runs the stop sequence once: stop handlers by ascending priority,
// Closer, Unit.Stop, then the UnitStoppedEvent. The context is closed and
// deregistered last.
func (u *unitInstance) stop(ctx context.Context) {
	u.once.Do(func() {
		defer close(u.done)
		c := u.ctx
		log := c.logger

		for _, group := range c.stopHandlerGroups() {
			var g errgroup.Group
			for _, handler := range group {
				g.Go(func() error {
					if err := handler(ctx); err != nil {
						log.Error("Stop handler failed", "unit", u.def.Tag, "instance", c.InstanceID(), "error", err)
					}
					return nil
				})
			}
			_ = g.Wait()
		}
		if closer, ok := u.unit.(Closer); ok {
			if err := closer.Close(ctx); err != nil {
				log.Error("Unit close failed", "unit", u.def.Tag, "instance", c.InstanceID(), "error", err)
			}
		}
		if err := u.unit.Stop(ctx); err != nil {
			log.Error("Unit stop failed", "unit", u.def.Tag, "instance", c.InstanceID(), "error", err)
		}
		if err := c.PublishEvent(ctx, &UnitStoppedEvent{Tag: u.def.Tag, InstanceID: c.InstanceID()}); err != nil {
			log.Warn("Failed to publish unit stopped event", "unit", u.def.Tag, "error", err)
		}
		if err := c.Close(); err != nil {
			log.Warn("Failed to close unit context", "unit", u.def.Tag, "error", err)
		}
		c.contexts.Deregister(u.def.Tag, c)
		log.Info("Unit instance stopped", "unit", u.def.Tag, "instance", c.InstanceID())
	})
}
