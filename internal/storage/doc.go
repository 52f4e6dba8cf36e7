// Package storage provides the durable store behind the delivery pipeline:
// conversation history, pending responses, broadcast jobs, daily triggers
// and broadcast subscriptions.
//
// All state transitions are guarded by the row's current status in the WHERE
// clause, so a worker that lost a race gets ErrNotFound instead of silently
// overwriting a terminal state.
package storage
