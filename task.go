package netcore

import "sync/atomic"

// Task is an opaque unit of work submitted to a WorkPool. Implementations
// embed [TaskBase] to get the intrusive successor link required by
// [runQueue]; the pool never allocates a separate queue node for a
// submitted task (spec §3).
//
// Invariant: a task's successor link is nil whenever it is not currently
// linked into a run queue. Submitting a task that is still linked (e.g.
// re-submitting the same Task value from within its own RunInPool before
// it has been dequeued elsewhere) is a programmer error — see
// [ErrTaskLinked].
type Task interface {
	// RunInPool executes the unit of work. Called from a worker
	// goroutine; panics are recovered and isolated by the pool (spec §7).
	RunInPool()

	// link returns the intrusive successor pointer used by runQueue.
	// Unexported so only types embedding TaskBase satisfy Task.
	link() *atomic.Pointer[Task]

	// bindSelf records t as this task's own identity and selfSlot
	// returns a stable address holding it. runQueue links tasks together
	// by chaining selfSlot addresses through link(), so no separate queue
	// node is ever allocated: the slot lives inside the task's own
	// TaskBase, which the caller already allocated.
	bindSelf(t Task)
	selfSlot() *Task
}

// TaskBase provides the intrusive queue link required by [Task].
// Embed it in any type that implements RunInPool.
//
//	type printTask struct {
//	    netcore.TaskBase
//	    msg string
//	}
//
//	func (t *printTask) RunInPool() { fmt.Println(t.msg) }
type TaskBase struct {
	next atomic.Pointer[Task]
	self Task
}

func (b *TaskBase) link() *atomic.Pointer[Task] { return &b.next }

// bindSelf and selfSlot implement the identity slot described on [Task].
// bindSelf is called by runQueue.enqueue, before any atomic publish of the
// task, from the single goroutine that owns it at that point; the plain
// write is made visible to other goroutines by the CAS/Swap that follows.
func (b *TaskBase) bindSelf(t Task) { b.self = t }
func (b *TaskBase) selfSlot() *Task { return &b.self }

// isLinked reports whether t is currently linked into a queue.
func isLinked(t Task) bool {
	return t.link().Load() != nil
}

// funcTask adapts a plain func() to Task, for callers that don't need a
// named type (e.g. submitting a selector-arm closure).
type funcTask struct {
	TaskBase
	fn func()
}

// RunInPool implements Task.
func (t *funcTask) RunInPool() {
	if t.fn != nil {
		t.fn()
	}
}

// TaskFunc wraps fn as a Task. Each call allocates a fresh node, since a
// func() has no storage for the intrusive link of its own.
func TaskFunc(fn func()) Task {
	return &funcTask{fn: fn}
}
