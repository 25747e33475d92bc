// Package seda implements a staged, event-driven pipeline.
//
// A pipeline is made of named [Stage]s connected through a [Dispatcher].
// Each stage buffers its work in a backlog and owns a pool of workers that
// run the stage [Processor]. The size of every pool is tuned periodically by
// an [Adjuster] from the growth of the backlog and the measured throughput:
// the pool grows under sustained pressure, shrinks when the stage is idle, and
// when it cannot grow anymore the oldest messages are dropped and rejected.
//
// Stages are wired in two phases: first every stage is created and registered
// with the dispatcher, then [Dispatcher.Construction] lets the processors that
// depend on sibling stages resolve them against the complete registry.
package seda
