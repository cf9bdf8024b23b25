package consumer

import "context"

// Task is the handle of a running receive loop.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed once the loop has exited and released the adapter.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) Wait() { <-t.done }

// Stop cancels the loop between messages and waits for it to exit. The
// message in flight, if any, is handled to completion first.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}
