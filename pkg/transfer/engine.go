package transfer

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"

	"skiff/pkg/nav"
	"skiff/pkg/session"
)

// Config tunes the engine. Zero values pick the defaults.
type Config struct {
	// MaxActive bounds how many tasks run at once. Default 5.
	MaxActive int
	// ChunkSize is the copy buffer size; progress and cancellation are
	// observed at chunk boundaries. Default 32 KiB.
	ChunkSize int
	// QueueDepth bounds how many tasks may wait. Default MaxActive*4.
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.MaxActive <= 0 {
		c.MaxActive = 5
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 32 * 1024
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = c.MaxActive * 4
	}
	return c
}

// Engine runs transfer tasks concurrently. Tasks on the same session have no
// ordering guarantee relative to each other; only each task's own state
// transitions are ordered. The engine performs no retries.
type Engine struct {
	cfg Config
	nav *nav.Navigator

	taskChan chan *Task
	sem      chan struct{}
	updates  chan Progress

	mu     sync.Mutex
	tasks  map[int]*Task
	nextID int
}

// NewEngine creates an engine and starts its dispatcher.
func NewEngine(navigator *nav.Navigator, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:      cfg,
		nav:      navigator,
		taskChan: make(chan *Task, cfg.QueueDepth),
		sem:      make(chan struct{}, cfg.MaxActive),
		updates:  make(chan Progress, 64),
		tasks:    make(map[int]*Task),
	}
	go e.dispatcher()
	return e
}

// Updates delivers progress snapshots. Sends never block the engine; a slow
// consumer misses intermediate updates, not terminal ones it polls for.
func (e *Engine) Updates() <-chan Progress {
	return e.updates
}

// Upload queues a local-to-remote copy.
func (e *Engine) Upload(sess *session.Session, localPath, remotePath string) (*Task, error) {
	return e.enqueue(sess, KindUpload, localPath, remotePath)
}

// Download queues a remote-to-local copy.
func (e *Engine) Download(sess *session.Session, remotePath, localPath string) (*Task, error) {
	return e.enqueue(sess, KindDownload, remotePath, localPath)
}

// Delete queues a single remote removal.
func (e *Engine) Delete(sess *session.Session, remotePath string) (*Task, error) {
	return e.enqueue(sess, KindDelete, remotePath, "")
}

func (e *Engine) enqueue(sess *session.Session, kind Kind, source, dest string) (*Task, error) {
	e.mu.Lock()
	e.nextID++
	task := &Task{
		ID:     e.nextID,
		Kind:   kind,
		Source: source,
		Dest:   dest,
		sess:   sess,
		state:  StateQueued,
	}
	// Deriving from the session context makes Close cascade into live tasks.
	task.ctx, task.cancel = context.WithCancel(sess.Context())
	e.tasks[task.ID] = task
	e.mu.Unlock()

	select {
	case e.taskChan <- task:
	default:
		e.mu.Lock()
		delete(e.tasks, task.ID)
		e.mu.Unlock()
		return nil, fmt.Errorf("transfer queue full")
	}

	log.Printf("[INFO] Queued task %d: %s %s -> %s on %s", task.ID, kind, source, dest, sess.ID())
	e.notify(task)
	return task, nil
}

// Cancel requests cancellation of a task by ID.
func (e *Engine) Cancel(taskID int) error {
	e.mu.Lock()
	task, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("task not found: %d", taskID)
	}
	task.Cancel()
	return nil
}

// Ack removes a terminal task's record. The task keeps running if it is not
// terminal yet.
func (e *Engine) Ack(taskID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	task, ok := e.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %d", taskID)
	}
	if !task.State().Terminal() {
		return fmt.Errorf("task %d is not finished", taskID)
	}
	delete(e.tasks, taskID)
	return nil
}

// Task looks up a live task record.
func (e *Engine) Task(taskID int) (*Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task, ok := e.tasks[taskID]
	return task, ok
}

// Tasks snapshots every live task, ordered by ID.
func (e *Engine) Tasks() []Progress {
	e.mu.Lock()
	tasks := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	e.mu.Unlock()

	out := make([]Progress, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Progress())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

func (e *Engine) dispatcher() {
	for task := range e.taskChan {
		e.sem <- struct{}{}
		go func(t *Task) {
			defer func() { <-e.sem }()
			e.process(t)
		}(task)
	}
}

func (e *Engine) process(task *Task) {
	if task.ctx.Err() != nil {
		e.finishFromCtx(task, nil)
		return
	}

	var err error
	switch task.Kind {
	case KindUpload:
		err = e.runUpload(task)
	case KindDownload:
		err = e.runDownload(task)
	case KindDelete:
		err = e.runDelete(task)
	}

	if err != nil {
		e.finishFromCtx(task, err)
		return
	}
	if task.finish(StateSucceeded, nil) {
		log.Printf("[INFO] Task %d (%s) completed", task.ID, task.Kind)
	}
	e.notify(task)
}

// finishFromCtx settles a task that did not succeed, distinguishing caller
// cancellation, session teardown and plain failure.
func (e *Engine) finishFromCtx(task *Task, err error) {
	switch {
	case task.wasCancelled():
		if task.finish(StateCancelled, nil) {
			log.Printf("[INFO] Task %d (%s) cancelled", task.ID, task.Kind)
		}
	case task.ctx.Err() != nil:
		if task.finish(StateFailed, session.ErrClosed) {
			log.Printf("[ERROR] Task %d (%s) failed: %v", task.ID, task.Kind, session.ErrClosed)
		}
	default:
		if task.finish(StateFailed, err) {
			log.Printf("[ERROR] Task %d (%s) failed: %v", task.ID, task.Kind, err)
		}
	}
	e.notify(task)
}

// runUpload streams a local file to the remote in bounded chunks. On failure
// or cancellation the partially written remote file is left in place: remote
// cleanup could destroy data the user still wants, so the caller decides.
func (e *Engine) runUpload(task *Task) error {
	conn, err := task.sess.Conn()
	if err != nil {
		return err
	}

	local, err := os.Open(task.Source)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	if !task.setRunning(info.Size()) {
		return task.ctx.Err()
	}
	e.notify(task)

	remote, err := conn.OpenWrite(task.Dest)
	if err != nil {
		task.sess.Fault(err)
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remote.Close()

	if err := e.copyChunks(task, remote, local); err != nil {
		return err
	}

	e.nav.InvalidateParent(task.sess, task.Dest)
	return nil
}

// runDownload streams a remote file to the local disk. On failure or
// cancellation the partial local file is removed; local cleanup is cheap and
// a truncated artifact is worse than none.
func (e *Engine) runDownload(task *Task) error {
	conn, err := task.sess.Conn()
	if err != nil {
		return err
	}

	entry, err := conn.Stat(task.Source)
	if err != nil {
		task.sess.Fault(err)
		return fmt.Errorf("failed to stat remote file: %w", err)
	}
	if !task.setRunning(entry.Size) {
		return task.ctx.Err()
	}
	e.notify(task)

	remote, err := conn.OpenRead(task.Source)
	if err != nil {
		task.sess.Fault(err)
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer remote.Close()

	local, err := os.Create(task.Dest)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	if err := e.copyChunks(task, local, remote); err != nil {
		local.Close()
		os.Remove(task.Dest)
		return err
	}
	if err := local.Close(); err != nil {
		os.Remove(task.Dest)
		return fmt.Errorf("failed to finish local file: %w", err)
	}
	return nil
}

func (e *Engine) runDelete(task *Task) error {
	conn, err := task.sess.Conn()
	if err != nil {
		return err
	}
	if !task.setRunning(0) {
		return task.ctx.Err()
	}

	if err := conn.Remove(task.Source); err != nil {
		task.sess.Fault(err)
		return fmt.Errorf("failed to delete %s: %w", task.Source, err)
	}

	e.nav.Invalidate(task.sess, task.Source)
	e.nav.InvalidateParent(task.sess, task.Source)
	return nil
}

// copyChunks is the shared chunk loop. Cancellation is observed between
// chunks, never mid-write.
func (e *Engine) copyChunks(task *Task, dst io.Writer, src io.Reader) error {
	buf := make([]byte, e.cfg.ChunkSize)
	for {
		if err := task.ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				task.sess.Fault(err)
				return fmt.Errorf("write failed: %w", err)
			}
			task.addBytes(int64(n))
			e.notify(task)
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			task.sess.Fault(readErr)
			return fmt.Errorf("read failed: %w", readErr)
		}
	}
}

// notify publishes a snapshot without ever blocking task execution.
func (e *Engine) notify(task *Task) {
	select {
	case e.updates <- task.Progress():
	default:
	}
}
