// Package pipeline runs items through a fixed chain of stages connected by
// bounded queues.
//
// A run has one source goroutine, Parallelism goroutines per step, and a
// pool of sink goroutines. Queue i connects the producers of step i to its
// consumers; queue 0 is fed by the source and the last queue feeds the sink.
//
// Shutdown travels forward with the data. Every queue carries a countdown of
// the producers still writing to it. Each producer decrements the countdown
// when it stops; the last one pushes exactly one end-of-stream marker per
// consumer of that queue. A consumer stops after reading its single marker,
// so each queue receives and delivers exactly as many markers as it has
// consumers, whatever the topology.
//
// A transformation error drops only that item. A panic inside a worker is
// recovered and recorded as a WorkerError; the worker then discards the rest
// of its input until its marker arrives so the run still terminates, and Run
// reports the failure after every goroutine has been joined.
package pipeline
