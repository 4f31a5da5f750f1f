// Package pipeline provides the ordered filter chain the gateway runs every
// request through.
//
// # Architecture
//
// A Chain is built once from StageConfigs. Stages are sorted by Order, lowest
// first, with ties kept in registration order. Each stage wraps the rest of
// the chain:
//
//	func (f *myFilter) Filter(ctx context.Context, ex *Exchange, next Next) error {
//		// before: runs before any stage with a higher Order
//		err := next(ctx, ex)
//		// after: runs once everything downstream has returned
//		return err
//	}
//
// A stage that returns without calling next short-circuits the chain; it is
// then responsible for writing the response.
//
// # Exchange
//
// The Exchange is the per-request context shared by the stages: the original
// request facts, the current request (which stages may replace), a
// status-capturing response writer and an attribute bag. An Exchange is owned
// by one request and is never shared.
//
// # Route filters
//
// Routes may name extra filters as "Name=arg1,arg2" descriptors. A Factory
// turns those descriptors into stages through registered constructors.
package pipeline
