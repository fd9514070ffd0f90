package step

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Step is one node of a chain. Steps are linked both ways; the links are
// owned by the chain and only change through its methods.
type Step struct {
	ID        uuid.UUID
	Transform Transform
	// Cache materializes the output of a source step locally.
	Cache bool

	chain      *Chain
	prev, next *Step
}

// NewStep returns an unlinked step with a fresh identity.
func NewStep(t Transform) *Step {
	return &Step{ID: uuid.New(), Transform: t}
}

// Previous returns the step whose output s transforms, or nil for the head.
func (s *Step) Previous() *Step { return s.prev }

// Next returns the step that transforms the output of s, or nil.
func (s *Step) Next() *Step { return s.next }

// Chain returns the chain s belongs to, or nil when unlinked.
func (s *Step) Chain() *Chain { return s.chain }

// Explain describes the step.
func (s *Step) Explain() string { return s.Transform.Explain() }

var (
	// ErrNotInChain is returned when a step is not part of the chain it is
	// used with.
	ErrNotInChain = errors.New("step is not part of this chain")
	// ErrLinked is returned when adding a step that already belongs to a
	// chain.
	ErrLinked = errors.New("step already belongs to a chain")
)

// Chain is the ordered list of steps of one tablet. Other chains refer to
// it by ID only. Head is the source step the chain starts from and Tail the
// most recently appended step, whose output is the chain's result; walking
// Previous from the tail reaches the head.
type Chain struct {
	ID string

	head, tail *Step
	n          int
}

// NewChain returns an empty chain.
func NewChain(id string) *Chain { return &Chain{ID: id} }

// Head returns the first step, or nil.
func (c *Chain) Head() *Step { return c.head }

// Tail returns the last step, whose output is the chain's result, or nil.
func (c *Chain) Tail() *Step { return c.tail }

// Len returns the number of steps.
func (c *Chain) Len() int { return c.n }

// Steps returns the steps from head to tail.
func (c *Chain) Steps() []*Step {
	out := make([]*Step, 0, c.n)
	for s := c.head; s != nil; s = s.next {
		out = append(out, s)
	}
	return out
}

// Step finds a step by identity.
func (c *Chain) Step(id uuid.UUID) (*Step, bool) {
	for s := c.head; s != nil; s = s.next {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Dependencies lists the chains that steps of c read, in step order.
func (c *Chain) Dependencies() []string {
	var out []string
	seen := map[string]bool{}
	for s := c.head; s != nil; s = s.next {
		if ref, ok := References(s.Transform); ok && !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// Push appends s without trying to merge it with the tail.
func (c *Chain) Push(s *Step) error {
	return c.Insert(s, c.tail)
}

// Append adds t at the end of the chain, merging it with the current tail
// when that is advised. It returns the step now at the tail and the merge
// outcome. MergePossible and MergeCancels
// outcomes are reported but not applied.
func (c *Chain) Append(t Transform) (*Step, MergeResult) {
	if c.tail == nil {
		s := NewStep(t)
		_ = c.Insert(s, nil)
		return s, impossible()
	}
	m := MergeTransforms(c.tail.Transform, t)
	if m.Outcome == MergeAdvised {
		prev := c.tail
		s := NewStep(m.Merged)
		s.Cache = prev.Cache
		_ = c.Remove(prev)
		_ = c.Insert(s, c.tail)
		return s, m
	}
	s := NewStep(t)
	_ = c.Insert(s, c.tail)
	return s, m
}

// Insert links s directly after the given step, or at the head when after
// is nil.
func (c *Chain) Insert(s, after *Step) error {
	if s.chain != nil {
		return ErrLinked
	}
	if after != nil && after.chain != c {
		return ErrNotInChain
	}
	s.chain = c
	s.prev = after
	if after == nil {
		s.next = c.head
		c.head = s
	} else {
		s.next = after.next
		after.next = s
	}
	if s.next != nil {
		s.next.prev = s
	} else {
		c.tail = s
	}
	c.n++
	return nil
}

// Remove unlinks s, connecting its neighbours to each other.
func (c *Chain) Remove(s *Step) error {
	if s.chain != c {
		return ErrNotInChain
	}
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		c.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		c.tail = s.prev
	}
	s.chain, s.prev, s.next = nil, nil, nil
	c.n--
	return nil
}

// Move relinks s directly after the given step, or at the head when after
// is nil.
func (c *Chain) Move(s, after *Step) error {
	if s.chain != c || (after != nil && after.chain != c) {
		return ErrNotInChain
	}
	if s == after {
		return fmt.Errorf("cannot move a step after itself")
	}
	if err := c.Remove(s); err != nil {
		return err
	}
	return c.Insert(s, after)
}
