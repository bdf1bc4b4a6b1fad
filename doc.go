// Package swrcache is a two-tier response cache for API clients: an
// authoritative in-memory tier with TTL and score-based eviction, mirrored
// into a durable byte store (the provider) under a total-size cap.
//
// Components:
//   - Engine: get/set/delete, pattern invalidation, stats and the sweeper.
//   - Bridge: keeps the provider in sync with the memory tier and reloads keys
//     changed by other processes.
//   - GenStore: generation counter per key. Writes carry the generation they
//     observed and are skipped once an invalidation has bumped it.
//   - Typed[V]: Codec-backed view over one namespace of an Engine.
//
// Storage failures never reach callers: they are logged, reported to Hooks
// and the engine keeps working from memory.
//
// Keys:
//
//	<namespace>:<path>?<sorted query>  - cache key (see Key)
//	<prefix><cache key>                - persisted document (default prefix "swr:")
//
// Generation-safe refresh:
//
//	gen := eng.BeginFlight(k) // before the fetch
//	defer eng.EndFlight(k)
//	v, err := fetch(ctx)
//	_, _ = eng.SetWithGen(ctx, k, v, gen, ttl) // skipped if k was invalidated meanwhile
package swrcache
