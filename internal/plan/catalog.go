package plan

import "fmt"

// Catalog is an immutable set of plans keyed by ID, loaded from config.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog builds a catalog from the given plans. Duplicate IDs are
// rejected.
func NewCatalog(plans []Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan %q has no id", p.Name)
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", p.ID)
		}
		c.plans[p.ID] = p
	}
	return c, nil
}

// Get returns the plan with the given ID, or ErrNotFound.
func (c *Catalog) Get(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}
