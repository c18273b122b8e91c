// Package history persists the bridge's published messages to SQLite.
//
// Every state, scene, and connection message the bridge publishes is
// also recorded as a row in the transitions table, payload verbatim.
// The local history answers "what did consumers actually see" without
// depending on broker retention or the time-series store.
//
// Two pieces:
//
//   - Repository / SQLiteRepository: the storage layer. Insert and
//     query transitions by key or recency, prune by age.
//   - Recorder: a fibaro.Publisher adapter that queues messages to a
//     background worker. Publishing never blocks on the database; when
//     the queue is full the entry is dropped with a warning.
//
// The schema lives in the embedded migrations (migrations package).
package history
