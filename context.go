package modkit

import (
	"context"
	"sync"
)

// ScopeContext extends context.Context with scope-level values.
// Values are looked up locally first, then through the parent scope's
// context, then through the wrapped context.Context.
type ScopeContext struct {
	context.Context
	cancel context.CancelFunc
	parent *ScopeContext
	values sync.Map
}

// NewScopeContext creates a cancellable ScopeContext wrapping parent.
func NewScopeContext(parent context.Context) *ScopeContext {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &ScopeContext{
		Context: ctx,
		cancel:  cancel,
	}
}

// child derives the context of a nested scope. Cancelling the parent
// cancels the child as well.
func (c *ScopeContext) child() *ScopeContext {
	ctx, cancel := context.WithCancel(c.Context)
	return &ScopeContext{
		Context: ctx,
		cancel:  cancel,
		parent:  c,
	}
}

// WithValue stores a value visible to this scope and its descendants.
// It returns the receiver to allow chaining.
func (c *ScopeContext) WithValue(key, val interface{}) *ScopeContext {
	c.values.Store(key, val)
	return c
}

func (c *ScopeContext) Parent() *ScopeContext {
	return c.parent
}

func (c *ScopeContext) Value(key interface{}) interface{} {
	if c == nil {
		return nil
	}
	if val, ok := c.values.Load(key); ok {
		return val
	}
	if c.parent != nil {
		if val := c.parent.Value(key); val != nil {
			return val
		}
	}
	if c.Context != nil {
		return c.Context.Value(key)
	}
	return nil
}

// Values returns a flattened copy of every scope value visible from c.
// Values set on nearer scopes override values set on ancestors.
func (c *ScopeContext) Values() map[interface{}]interface{} {
	out := make(map[interface{}]interface{})
	c.collect(out)
	return out
}

func (c *ScopeContext) collect(out map[interface{}]interface{}) {
	if c.parent != nil {
		c.parent.collect(out)
	}
	c.values.Range(func(k, v interface{}) bool {
		out[k] = v
		return true
	})
}

func (c *ScopeContext) close() {
	if c.cancel != nil {
		c.cancel()
	}
}
