package step

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"conduit/internal/config"
)

// CycleError reports a chain that depends on its own result through clone,
// join or merge steps. Path starts and ends with Chain.
type CycleError struct {
	Chain string
	Path  []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("chain %q depends on itself: %s", e.Chain, strings.Join(e.Path, " -> "))
}

// Document owns the chains of one document. Chains refer to each other by
// ID; a reference to a missing chain fails when it is resolved.
type Document struct {
	mu     sync.RWMutex
	chains map[string]*Chain
	order  []string
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{chains: map[string]*Chain{}}
}

// FromConfig decodes every chain of a configuration document. Steps are
// taken as written; no merging happens.
func FromConfig(cfg *config.Document) (*Document, error) {
	doc := NewDocument()
	for ci, cc := range cfg.Chains {
		c := NewChain(cc.ID)
		for si, sc := range cc.Steps {
			t, err := Decode(sc)
			if err != nil {
				return nil, fmt.Errorf("chains[%d].steps[%d]: %w", ci, si, err)
			}
			s := NewStep(t)
			s.Cache = sc.Cache
			if err := c.Push(s); err != nil {
				return nil, err
			}
		}
		if err := doc.Add(c); err != nil {
			return nil, fmt.Errorf("chains[%d]: %w", ci, err)
		}
	}
	return doc, nil
}

// Add registers c under its ID.
func (d *Document) Add(c *Chain) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("chain id must not be empty")
	}
	if _, dup := d.chains[c.ID]; dup {
		return fmt.Errorf("chain %q already exists", c.ID)
	}
	d.chains[c.ID] = c
	d.order = append(d.order, c.ID)
	return nil
}

// Remove drops the chain with the given ID. Chains referring to it fail on
// resolution afterwards.
func (d *Document) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.chains, id)
	d.order = slices.DeleteFunc(d.order, func(x string) bool { return x == id })
}

// Chain returns the chain with the given ID.
func (d *Document) Chain(id string) (*Chain, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.chains[id]
	return c, ok
}

// IDs lists chain IDs in the order they were added.
func (d *Document) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.order)
}

// Step finds a step of any chain by identity.
func (d *Document) Step(id uuid.UUID) (*Step, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, cid := range d.order {
		if s, ok := d.chains[cid].Step(id); ok {
			return s, true
		}
	}
	return nil, false
}

// Dependencies returns the transitive closure of the chains id depends on,
// in breadth-first order. The result contains id itself only when there is a
// cycle. Unknown chains are listed but not followed.
func (d *Document) Dependencies(id string) []string {
	closure, _ := d.walk(id)
	return closure
}

// CheckCycles fails with a *CycleError when id depends on itself.
func (d *Document) CheckCycles(id string) error {
	_, path := d.walk(id)
	if path != nil {
		return &CycleError{Chain: id, Path: path}
	}
	return nil
}

// walk traverses the dependency edges from id. When id is reachable from
// itself it also returns the shortest such path.
func (d *Document) walk(id string) (closure []string, cycle []string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	parent := map[string]string{}
	seen := map[string]bool{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, ok := d.chains[cur]
		if !ok {
			continue
		}
		for _, dep := range c.Dependencies() {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			parent[dep] = cur
			closure = append(closure, dep)
			if dep == id {
				cycle = []string{id}
				for at := cur; at != id; at = parent[at] {
					cycle = append(cycle, at)
				}
				cycle = append(cycle, id)
				slices.Reverse(cycle)
				continue
			}
			queue = append(queue, dep)
		}
	}
	return closure, cycle
}
