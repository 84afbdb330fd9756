// Package netcore provides the concurrency and I/O-buffering core of a
// high-throughput non-blocking network framework: a multi-worker task
// pool, a lock-free multi-writer output queue, and a selector/worker
// coordinated input queue.
//
// # Architecture
//
// [WorkPool] owns a bank of intrusive lock-free run queues and a counting
// [gate] on which idle workers park. Producers call [WorkPool.Submit] to
// hand off a [Task]; a worker wakes, drains whichever queues have work,
// and calls the task's RunInPool method.
//
// [OutputQueue] accepts concurrent byte writes from up to six writers via
// [OutputQueue.AddData], staging them into a chain of fixed-size data
// blocks, and reports per-writer how many bytes it made newly
// contiguous-readable at the head. A single reader drains with
// [OutputQueue.GetData] and [OutputQueue.RemoveData].
//
// [InputQueue] couples a selector role (arms socket read-readiness) with a
// worker role (performs the read, buffers into a block chain, and invokes
// a [DataHandler]) through a compact atomic state word.
//
// # Platform support
//
// The bundled [Selector] implementation is platform-native:
//   - Linux: epoll, eventfd wakeups
//   - Darwin/BSD: kqueue, EVFILT_USER wakeups
//
// Any other [Selector] implementation satisfying the interfaces in
// collaborators.go works equally well; the pool and queues never assume a
// particular I/O backend.
//
// # Out of scope
//
// Socket acceptors/connectors, session glue, timers, and datagram helpers
// are external collaborators, reached only through the interfaces in
// collaborators.go ([Selector], [Socket], [Listener]). Message framing,
// TLS, flow control above the byte level, durable persistence, and
// cross-process coordination are not addressed by this package.
//
// # Thread safety
//
// [WorkPool.Submit] is safe from any goroutine. [OutputQueue.AddData] is
// safe from up to six concurrent writer goroutines; [OutputQueue.GetData]
// and [OutputQueue.RemoveData] are for a single reader. [InputQueue] is
// driven by exactly one selector role and one worker role at a time; both
// may run concurrently with each other.
package netcore
