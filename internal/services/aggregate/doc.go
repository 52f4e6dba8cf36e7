// Package aggregate coalesces bursts of inbound events into single logical
// turns before response generation runs.
//
// Humans send thoughts as several quick fragments ("ok", "so", "one more
// thing"), and platforms deliver multi-photo albums as a rapid burst of
// separate events. Each aggregator keeps one buffer per user behind a
// debounce timer; a quiet period flushes the buffer to the dispatcher.
package aggregate
