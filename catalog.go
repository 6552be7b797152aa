package unitrt

// Catalog is the static registration table of a program. Registrations are
// declared in code and scanned per unit at startup.
//
//	catalog := unitrt.NewCatalog(
//		unitrt.DeployUnit[*GatewayUnit](NewGatewayUnit, unitrt.Priority(1)),
//		unitrt.Implements[SessionStore, *RedisSessions](NewRedisSessions, unitrt.Primary()),
//		unitrt.OnEvent(func(ctx context.Context, g *GatewayUnit, e *PlayerJoined) error {
//			return g.welcome(ctx, e)
//		}),
//	)
type Catalog struct {
	registrations []Registration
}

// NewCatalog creates a catalog holding regs.
func NewCatalog(regs ...Registration) *Catalog {
	return (&Catalog{}).Register(regs...)
}

// Register appends regs and returns the catalog.
func (c *Catalog) Register(regs ...Registration) *Catalog {
	for _, r := range regs {
		if r != nil {
			c.registrations = append(c.registrations, r)
		}
	}
	return c
}

// Merge appends the registrations of other.
func (c *Catalog) Merge(other *Catalog) *Catalog {
	if other == nil {
		return c
	}
	return c.Register(other.registrations...)
}

// Registrations returns the registrations in declaration order.
func (c *Catalog) Registrations() []Registration {
	if c == nil {
		return nil
	}
	return append([]Registration(nil), c.registrations...)
}

// Len returns the number of registrations.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.registrations)
}
