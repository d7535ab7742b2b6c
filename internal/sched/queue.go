package sched

import "github.com/ChuLiYu/nanokernel/pkg/types"

// ringQueue is a fixed-capacity circular FIFO of task references. One exists
// per priority level; order within a level is strict FIFO.
type ringQueue struct {
	buf  []*Task
	head int
	size int
}

func newRingQueue(capacity int) *ringQueue {
	return &ringQueue{buf: make([]*Task, capacity)}
}

// push appends t at the tail. Returns false when the queue is full.
func (q *ringQueue) push(t *Task) bool {
	if q.size == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.size)%len(q.buf)] = t
	q.size++
	return true
}

// pop removes and returns the head, or nil when empty.
func (q *ringQueue) pop() *Task {
	if q.size == 0 {
		return nil
	}
	t := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return t
}

// remove deletes the task with the given id, keeping the FIFO order of the
// remaining entries. Reports whether the id was present.
func (q *ringQueue) remove(id types.TaskID) bool {
	n := q.size
	found := false
	for i := 0; i < n; i++ {
		t := q.pop()
		if !found && t.ID == id {
			found = true
			continue
		}
		q.push(t)
	}
	return found
}

func (q *ringQueue) len() int {
	return q.size
}
