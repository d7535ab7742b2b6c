// ============================================================================
// Kernel event trace
// Responsibilities:
// 1. Append scheduler and thread lifecycle events to a JSON-lines file
// 2. Assign a monotonically increasing sequence number to every event
// 3. Batch writes through an in-memory buffer with a flush interval
// 4. Flush deterministically on demand and at close
// ============================================================================

// Package trace records the kernel's scheduling decisions for offline
// inspection.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/nanokernel/pkg/types"
)

// Kind labels one trace event.
type Kind string

const (
	KindTaskCreated    Kind = "task_created"
	KindTaskDispatched Kind = "task_dispatched"
	KindTaskPreempted  Kind = "task_preempted"
	KindTaskTerminated Kind = "task_terminated"
	KindThreadCreated  Kind = "thread_created"
	KindThreadExited   Kind = "thread_exited"
)

// Event is one JSON line in the trace file.
type Event struct {
	Seq      uint64         `json:"seq"`
	TimeNs   int64          `json:"time_ns"`
	Kind     Kind           `json:"kind"`
	Task     types.TaskID   `json:"task,omitempty"`
	Thread   types.ThreadID `json:"thread,omitempty"`
	Priority int            `json:"priority,omitempty"`
	ExitCode int32          `json:"exit_code,omitempty"`
	WaitTick uint64         `json:"wait_ticks,omitempty"`
}

// fileLike is the subset of *os.File the writer needs; tests substitute an
// in-memory implementation.
type fileLike interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Writer appends events to a single trace file. Append is safe for
// concurrent use; the sequence number is assigned under the writer lock, so
// seq order matches file order.
type Writer struct {
	mu   sync.Mutex
	file fileLike
	path string
	seq  uint64

	buffer        []Event
	bufferSize    int
	lastFlush     time.Time
	flushInterval time.Duration
	closed        bool
}

// DefaultBufferSize is the event count that forces a flush.
const DefaultBufferSize = 256

// NewWriter creates or truncates the trace file at path. bufferSize <= 0
// takes the default; flushInterval <= 0 flushes on every append.
func NewWriter(path string, bufferSize int, flushInterval time.Duration) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create trace dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Writer{
		file:          file,
		path:          path,
		buffer:        make([]Event, 0, bufferSize),
		bufferSize:    bufferSize,
		lastFlush:     time.Now(),
		flushInterval: flushInterval,
	}, nil
}

// Append stamps ev with the next sequence number and buffers it. The buffer
// drains when full or when the flush interval has elapsed.
func (w *Writer) Append(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("append to closed trace writer")
	}

	w.seq++
	ev.Seq = w.seq
	w.buffer = append(w.buffer, ev)

	if len(w.buffer) >= w.bufferSize || time.Since(w.lastFlush) >= w.flushInterval {
		return w.flushLocked()
	}
	return nil
}

// Flush drains the buffer to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.flushLocked()
}

// Close flushes and closes the file. Further appends fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flushLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Seq reports the last assigned sequence number.
func (w *Writer) Seq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// flushLocked drains the buffer incrementally: events already on disk are
// dropped from the buffer even when a later write fails, so a retried flush
// never duplicates lines. The failed event stays buffered for the retry.
func (w *Writer) flushLocked() error {
	written := 0
	var writeErr error
	for _, ev := range w.buffer {
		line, err := json.Marshal(ev)
		if err != nil {
			writeErr = fmt.Errorf("encode trace event %d: %w", ev.Seq, err)
			break
		}
		if _, err := w.file.Write(append(line, '\n')); err != nil {
			writeErr = fmt.Errorf("write trace event %d: %w", ev.Seq, err)
			break
		}
		written++
	}
	w.buffer = append(w.buffer[:0], w.buffer[written:]...)
	w.lastFlush = time.Now()
	if writeErr != nil {
		return writeErr
	}
	return w.file.Sync()
}

// Read loads every event from a trace file, in file order. Intended for
// tests and offline tooling, not the hot path.
func Read(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()

	var events []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode trace event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
