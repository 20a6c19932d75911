// Package core orchestrates schema recognition, template generation and
// rule-based classification.
//
// It holds no transport concerns and is used unchanged by the HTTP server,
// the CLI and tests.
//
// # Caching
//
// Schemas are cached by structural fingerprint and templates by id in
// bounded LRU caches. A miss reads through to the store; when the store has
// nothing the value is produced (recognized or generated), persisted and
// cached. Concurrent misses for one key collapse into a single load, and
// template writes are serialized per template id.
//
// # Batches
//
// [Service.ClassifyBatch] splits records into chunks of
// [Options.BatchSize] processed by up to [Options.Workers] goroutines.
// Results keep input order. Cancellation is cooperative: chunks already
// running finish and the result is flagged as truncated. The number of
// concurrent batches is bounded by a [BatchLimiter].
//
// # Error Handling
//
// Single-record classification never returns an error; records that cannot
// be classified get a degraded result. Technical errors are mapped to
// user-facing messages with support codes by [MapError].
package core
