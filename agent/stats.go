package agent

import "github.com/zfair/uniqd/agent/adminhttp"

// Stats is a read-only snapshot of dispatcher state, published for the
// admin HTTP server to read. It is never mutated in place — the
// dispatcher builds a fresh Stats and swaps it into an atomic.Value,
// the same publish pattern used for the server's own config.
//
// It is an alias for adminhttp.Stats rather than a parallel struct so
// Server.Snapshot satisfies adminhttp.StatsSource without a conversion
// step at the package boundary.
type Stats = adminhttp.Stats
