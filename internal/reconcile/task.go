package reconcile

// Op names the remote call a Task performs.
type Op string

const (
	OpCreate  Op = "create"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
	OpPushAll Op = "push"
)

// Task is the handle of one asynchronous remote call started by a local
// mutation. Tasks cannot be cancelled.
type Task struct {
	Op Op
	ID string // item the mutation touched

	done chan struct{}
	err  error
}

func newTask(op Op, id string) *Task {
	return &Task{Op: op, ID: id, done: make(chan struct{})}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Wait blocks until the remote call finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Done is closed when the remote call finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome of a finished task, or nil while it is running.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
