// Package conncheck polls backend connection-test tasks until they settle.
//
// A connection test runs asynchronously on the backend and is tracked by an
// opaque task id. Poll fetches the task state on a progressive delay
// schedule (2s, 3s, then 5s repeating) until the task reaches a terminal
// state, the context is cancelled, or the attempt budget is exhausted.
// Poll always reduces the outcome to a Verdict and never returns an error,
// which makes it safe to run as a pool worker: TestConnections polls many
// accounts' tasks concurrently through pool.WorkerPool without any task
// being able to abort the batch.
//
// An unrecognized task state produces an immediate failure verdict rather
// than another retry. Protocol drift between client and backend is treated
// as a hard condition to surface, not a transient one to wait out.
package conncheck
