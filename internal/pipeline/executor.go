package pipeline

import (
	"context"
	"sort"
)

// Next invokes the remainder of the chain.
type Next func(ctx context.Context, ex *Exchange) error

// Filter is one stage of the chain.
type Filter interface {
	Filter(ctx context.Context, ex *Exchange, next Next) error
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, ex *Exchange, next Next) error

func (f FilterFunc) Filter(ctx context.Context, ex *Exchange, next Next) error {
	return f(ctx, ex, next)
}

// StageConfig registers a filter at a priority.
type StageConfig struct {
	Name   string
	Order  int
	Filter Filter
}

// Chain runs filters in priority order around a terminal handler.
type Chain struct {
	stages   []StageConfig
	terminal Next
}

// NewChain sorts stages once, lowest Order first. Stages with equal Order
// keep their registration order. terminal runs after the last stage calls
// next; it may be nil.
func NewChain(terminal Next, stages ...StageConfig) *Chain {
	sorted := make([]StageConfig, len(stages))
	copy(sorted, stages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	if terminal == nil {
		terminal = func(context.Context, *Exchange) error { return nil }
	}
	return &Chain{stages: sorted, terminal: terminal}
}

// With returns a new chain with extra stages merged into the order.
func (c *Chain) With(stages ...StageConfig) *Chain {
	if len(stages) == 0 {
		return c
	}
	all := make([]StageConfig, 0, len(c.stages)+len(stages))
	all = append(all, c.stages...)
	all = append(all, stages...)
	return NewChain(c.terminal, all...)
}

// Run executes the chain for ex.
func (c *Chain) Run(ctx context.Context, ex *Exchange) error {
	return c.next(0)(ctx, ex)
}

func (c *Chain) next(i int) Next {
	if i >= len(c.stages) {
		return c.terminal
	}
	return func(ctx context.Context, ex *Exchange) error {
		return c.stages[i].Filter.Filter(ctx, ex, c.next(i+1))
	}
}

// Names returns the stage names in execution order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name
	}
	return names
}

// Len is the number of stages.
func (c *Chain) Len() int {
	return len(c.stages)
}
