package blobcache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

type taskCommand int

const (
	taskWriteToDisk taskCommand = iota + 1
	taskExit
)

// writeTask is one unit of deferred work. For taskWriteToDisk the task
// owns buf from enqueue until the write (or skip) completes; the producer
// must not mutate it after handoff. taskExit carries no payload and stops
// the worker after already-queued work has drained.
type writeTask struct {
	cmd  taskCommand
	id   uint32
	seq  uint64
	path string
	buf  []byte
}

// pendingWrite is one queued-but-unflushed buffer for an identifier.
type pendingWrite struct {
	seq uint64
	buf []byte
}

// writeWorker is the deferred write subsystem: a FIFO task queue drained
// by exactly one background goroutine.
//
// The worker cycles Idle -> Draining -> Idle; an Exit task moves it to
// Stopped, from which there is no way back. All queue state is guarded by
// mu; workAvailable wakes the worker, workerIdle wakes callers blocked in
// waitForWorkComplete.
type writeWorker struct {
	log *slog.Logger

	mu            sync.Mutex
	workAvailable *sync.Cond
	workerIdle    *sync.Cond

	queue   []writeTask
	pending map[uint32][]pendingWrite // identifier -> outstanding buffers, oldest first
	seq     uint64
	idle    bool
	closing bool // Exit enqueued; no further tasks accepted
	skipped int  // writes skipped because a later Set superseded them

	// onWriteDone lets the façade reconcile its bookkeeping after each
	// attempted write: dropping the entry when the write failed, reaping
	// the file when the entry vanished mid-flight. Called without mu
	// held; superseded (skipped) writes are not reported.
	onWriteDone func(id uint32, path string, err error)

	wg sync.WaitGroup
}

func newWriteWorker(log *slog.Logger, onWriteDone func(id uint32, path string, err error)) *writeWorker {
	w := &writeWorker{
		log:         log,
		pending:     make(map[uint32][]pendingWrite),
		idle:        true,
		onWriteDone: onWriteDone,
	}
	w.workAvailable = sync.NewCond(&w.mu)
	w.workerIdle = sync.NewCond(&w.mu)
	w.wg.Add(1)
	go w.run()
	return w
}

// queueWrite hands buf to the worker for persistence at path. Never
// blocks beyond the queue mutex.
func (w *writeWorker) queueWrite(id uint32, path string, buf []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing {
		return
	}
	w.seq++
	w.pending[id] = append(w.pending[id], pendingWrite{seq: w.seq, buf: buf})
	w.queue = append(w.queue, writeTask{
		cmd:  taskWriteToDisk,
		id:   id,
		seq:  w.seq,
		path: path,
		buf:  buf,
	})
	w.workAvailable.Signal()
}

// queueExit asks the worker to stop after draining already-queued work.
func (w *writeWorker) queueExit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing {
		return
	}
	w.closing = true
	w.queue = append(w.queue, writeTask{cmd: taskExit})
	w.workAvailable.Signal()
}

// waitForWorkComplete blocks until the queue is empty and no task is
// executing. It establishes the consistency point trim and shutdown need
// before trusting file-size accounting.
func (w *writeWorker) waitForWorkComplete() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.idle || len(w.queue) > 0 {
		w.workerIdle.Wait()
	}
}

// join blocks until the worker goroutine has exited. Call after queueExit.
func (w *writeWorker) join() {
	w.wg.Wait()
}

// hasPending reports whether id has buffers queued but not yet flushed.
func (w *writeWorker) hasPending(id uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending[id]) > 0
}

func (w *writeWorker) run() {
	defer w.wg.Done()

	w.mu.Lock()
	for {
		for len(w.queue) == 0 {
			w.idle = true
			w.workerIdle.Broadcast()
			w.workAvailable.Wait()
		}
		w.idle = false

		task := w.queue[0]
		w.queue = w.queue[1:]

		if task.cmd == taskExit {
			w.idle = true
			w.workerIdle.Broadcast()
			w.mu.Unlock()
			return
		}

		// A later Set for the same identifier makes this buffer stale;
		// skip the write, the newer task will produce the final content.
		superseded := w.supersededLocked(task)
		if superseded {
			w.skipped++
		}
		w.mu.Unlock()

		var writeErr error
		if !superseded {
			writeErr = writeFileAtomic(task.path, task.buf)
			if writeErr != nil {
				w.log.Warn("deferred write failed",
					"entry", fmt.Sprintf("%08x", task.id),
					"path", task.path,
					"error", writeErr)
			}
		}

		w.mu.Lock()
		w.completeLocked(task)
		if !superseded && w.onWriteDone != nil {
			w.mu.Unlock()
			w.onWriteDone(task.id, task.path, writeErr)
			w.mu.Lock()
		}
	}
}

// supersededLocked reports whether a newer write for the same identifier
// is outstanding behind task.
func (w *writeWorker) supersededLocked(task writeTask) bool {
	list := w.pending[task.id]
	return len(list) > 0 && list[len(list)-1].seq > task.seq
}

// completeLocked drops task's buffer from the pending index, releasing
// the worker's ownership of it.
func (w *writeWorker) completeLocked(task writeTask) {
	list := w.pending[task.id]
	for i, p := range list {
		if p.seq == task.seq {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(w.pending, task.id)
	} else {
		w.pending[task.id] = list
	}
}

// writeFileAtomic persists buf at path via a temp file in the same
// directory and a rename, creating the shard directory on demand.
func writeFileAtomic(path string, buf []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tmpFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
