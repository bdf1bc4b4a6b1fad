package request

import "context"

// Orchestrator composes the request pipeline: de-dup by key, then retry with
// backoff, then a timeout on every attempt.
type Orchestrator struct {
	group  Group
	policy Policy
}

func New(p Policy) *Orchestrator {
	return &Orchestrator{policy: p}
}

func (o *Orchestrator) Policy() Policy { return o.policy }

// Group exposes the de-dup set, e.g. to check whether a key is in flight.
func (o *Orchestrator) Group() *Group { return &o.group }

// Do runs fn through the pipeline. Concurrent calls with the same non-empty
// key share one execution (and its retries). An empty key disables de-dup.
func (o *Orchestrator) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	return Do(ctx, o, key, fn)
}

// Do is the typed form of Orchestrator.Do.
func Do[T any](ctx context.Context, o *Orchestrator, key string, fn func(context.Context) (T, error)) (T, error) {
	v, _, err := Dedupe(ctx, &o.group, key, func(c context.Context) (T, error) {
		return WithRetry(c, o.policy, fn)
	})
	return v, err
}
