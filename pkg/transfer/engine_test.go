package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"skiff/pkg/nav"
	"skiff/pkg/session"
	"skiff/pkg/transport"
)

type fixture struct {
	mem      *transport.Mem
	registry *session.Registry
	sess     *session.Session
	nav      *nav.Navigator
	engine   *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mem := transport.NewMem("")
	registry := session.NewRegistry(mem)
	sess, err := registry.GetOrCreate(context.Background(),
		transport.Profile{Host: "h", Port: 22, Username: "u"}, transport.Password("x"))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	navigator := nav.New()
	return &fixture{
		mem:      mem,
		registry: registry,
		sess:     sess,
		nav:      navigator,
		engine:   NewEngine(navigator, cfg),
	}
}

func waitTerminal(t *testing.T, task *Task) State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := task.State(); s.Terminal() {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Task %d did not reach a terminal state (state %v)", task.ID, task.State())
	return StateQueued
}

func TestEngine_Upload(t *testing.T) {
	t.Run("Core Functionality: upload streams bytes and reports progress", func(t *testing.T) {
		f := newFixture(t, Config{ChunkSize: 4})
		f.mem.FS.MkdirAll("/srv")

		local := filepath.Join(t.TempDir(), "up.txt")
		content := []byte("hello remote world")
		if err := os.WriteFile(local, content, 0644); err != nil {
			t.Fatal(err)
		}

		task, err := f.engine.Upload(f.sess, local, "/srv/up.txt")
		if err != nil {
			t.Fatalf("Upload failed to queue: %v", err)
		}
		if state := waitTerminal(t, task); state != StateSucceeded {
			t.Fatalf("Expected StateSucceeded, got %v (%v)", state, task.Err())
		}
		if string(f.mem.FS.Content("/srv/up.txt")) != string(content) {
			t.Error("Remote content does not match upload")
		}
		prog := task.Progress()
		if prog.Bytes != int64(len(content)) || prog.Total != int64(len(content)) {
			t.Errorf("Expected %d/%d bytes, got %d/%d", len(content), len(content), prog.Bytes, prog.Total)
		}
	})

	t.Run("Side Effects: upload then list reflects the new file", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.mem.FS.MkdirAll("/srv")

		// Warm the cache before the upload.
		if entries, err := f.nav.List(f.sess, "/srv"); err != nil || len(entries) != 0 {
			t.Fatalf("Unexpected initial listing: %v, %v", entries, err)
		}

		local := filepath.Join(t.TempDir(), "new.txt")
		os.WriteFile(local, []byte("data"), 0644)
		task, _ := f.engine.Upload(f.sess, local, "/srv/new.txt")
		waitTerminal(t, task)

		entries, err := f.nav.List(f.sess, "/srv")
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Name != "new.txt" {
			t.Errorf("Listing does not reflect upload: %v", entries)
		}
	})

	t.Run("Error Handling: mid-stream failure leaves the remote partial in place", func(t *testing.T) {
		f := newFixture(t, Config{ChunkSize: 4})
		f.mem.FS.MkdirAll("/srv")

		var mu sync.Mutex
		writes := 0
		f.mem.ErrHook = func(op, path string) error {
			if op != "write" {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			writes++
			if writes > 2 {
				return errors.New("disk quota exceeded")
			}
			return nil
		}

		local := filepath.Join(t.TempDir(), "big.txt")
		os.WriteFile(local, []byte("0123456789abcdef"), 0644)

		task, _ := f.engine.Upload(f.sess, local, "/srv/big.txt")
		if state := waitTerminal(t, task); state != StateFailed {
			t.Fatalf("Expected StateFailed, got %v", state)
		}
		if got := f.mem.FS.Content("/srv/big.txt"); string(got) != "01234567" {
			t.Errorf("Expected partial remote content to remain, got %q", got)
		}
	})

	t.Run("Error Handling: missing local file fails without touching the remote", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.mem.FS.MkdirAll("/srv")

		task, _ := f.engine.Upload(f.sess, "/does/not/exist", "/srv/x.txt")
		if state := waitTerminal(t, task); state != StateFailed {
			t.Fatalf("Expected StateFailed, got %v", state)
		}
		if f.mem.FS.Exists("/srv/x.txt") {
			t.Error("Remote file was created for a doomed upload")
		}
	})
}

func TestEngine_Download(t *testing.T) {
	t.Run("Core Functionality: download round-trips content", func(t *testing.T) {
		f := newFixture(t, Config{ChunkSize: 4})
		f.mem.FS.WriteFile("/srv/file.txt", []byte("remote payload"))

		local := filepath.Join(t.TempDir(), "file.txt")
		task, err := f.engine.Download(f.sess, "/srv/file.txt", local)
		if err != nil {
			t.Fatal(err)
		}
		if state := waitTerminal(t, task); state != StateSucceeded {
			t.Fatalf("Expected StateSucceeded, got %v (%v)", state, task.Err())
		}
		got, err := os.ReadFile(local)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "remote payload" {
			t.Errorf("Unexpected local content: %q", got)
		}
	})

	t.Run("Error Handling: mid-stream failure removes the partial local file", func(t *testing.T) {
		f := newFixture(t, Config{ChunkSize: 4})
		f.mem.FS.WriteFile("/srv/file.txt", []byte("0123456789abcdef"))

		var mu sync.Mutex
		reads := 0
		f.mem.ErrHook = func(op, path string) error {
			if op != "read" {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			reads++
			if reads > 2 {
				return &transport.NetworkError{Op: "read", Err: errors.New("connection reset")}
			}
			return nil
		}

		local := filepath.Join(t.TempDir(), "file.txt")
		task, _ := f.engine.Download(f.sess, "/srv/file.txt", local)
		if state := waitTerminal(t, task); state != StateFailed {
			t.Fatalf("Expected StateFailed, got %v", state)
		}
		if _, err := os.Stat(local); !os.IsNotExist(err) {
			t.Error("Partial local file was left behind")
		}
		// The network fault was detected lazily and marked the session.
		if state, _ := f.sess.State(); state != session.StateFailed {
			t.Errorf("Expected session StateFailed, got %v", state)
		}
	})

	t.Run("Error Handling: missing remote file fails the task", func(t *testing.T) {
		f := newFixture(t, Config{})
		local := filepath.Join(t.TempDir(), "x")
		task, _ := f.engine.Download(f.sess, "/missing", local)
		if state := waitTerminal(t, task); state != StateFailed {
			t.Fatalf("Expected StateFailed, got %v", state)
		}
	})
}

func TestEngine_Cancel(t *testing.T) {
	t.Run("Core Functionality: cancel before the first chunk leaves no local bytes", func(t *testing.T) {
		f := newFixture(t, Config{ChunkSize: 4})
		f.mem.FS.WriteFile("/srv/file.txt", []byte("0123456789abcdef"))

		release := make(chan struct{})
		f.mem.ErrHook = func(op, path string) error {
			if op == "read" {
				<-release
			}
			return nil
		}

		local := filepath.Join(t.TempDir(), "file.txt")
		task, _ := f.engine.Download(f.sess, "/srv/file.txt", local)

		// Let the task reach the blocking read, then cancel.
		deadline := time.Now().Add(2 * time.Second)
		for task.State() != StateRunning && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		task.Cancel()
		close(release)

		if state := waitTerminal(t, task); state != StateCancelled {
			t.Fatalf("Expected StateCancelled, got %v", state)
		}
		if _, err := os.Stat(local); !os.IsNotExist(err) {
			t.Error("Expected zero local bytes after cancelled download")
		}
	})

	t.Run("Core Functionality: cancelled upload leaves the partial without deletion", func(t *testing.T) {
		f := newFixture(t, Config{ChunkSize: 4})
		f.mem.FS.MkdirAll("/srv")

		proceed := make(chan struct{})
		var mu sync.Mutex
		writes := 0
		f.mem.ErrHook = func(op, path string) error {
			if op != "write" {
				return nil
			}
			mu.Lock()
			writes++
			n := writes
			mu.Unlock()
			if n == 2 {
				<-proceed
			}
			return nil
		}

		local := filepath.Join(t.TempDir(), "big.txt")
		os.WriteFile(local, []byte("0123456789abcdef"), 0644)
		task, _ := f.engine.Upload(f.sess, local, "/srv/big.txt")

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			n := writes
			mu.Unlock()
			if n >= 2 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		task.Cancel()
		close(proceed)

		if state := waitTerminal(t, task); state != StateCancelled {
			t.Fatalf("Expected StateCancelled, got %v", state)
		}
		if got := f.mem.FS.Content("/srv/big.txt"); len(got) == 0 || len(got) >= 16 {
			t.Errorf("Expected a partial remote file, got %d bytes", len(got))
		}
	})

	t.Run("Input Validation: cancel after terminal state is a no-op", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.mem.FS.WriteFile("/srv/f.txt", []byte("x"))
		local := filepath.Join(t.TempDir(), "f.txt")

		task, _ := f.engine.Download(f.sess, "/srv/f.txt", local)
		if state := waitTerminal(t, task); state != StateSucceeded {
			t.Fatal("Setup download failed")
		}
		task.Cancel()
		if state := task.State(); state != StateSucceeded {
			t.Errorf("Terminal state changed after cancel: %v", state)
		}
	})
}

func TestEngine_Delete(t *testing.T) {
	t.Run("Core Functionality: delete removes the file and refreshes the parent", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.mem.FS.WriteFile("/srv/gone.txt", []byte("x"))

		f.nav.List(f.sess, "/srv")
		task, _ := f.engine.Delete(f.sess, "/srv/gone.txt")
		if state := waitTerminal(t, task); state != StateSucceeded {
			t.Fatalf("Expected StateSucceeded, got %v (%v)", state, task.Err())
		}
		if f.mem.FS.Exists("/srv/gone.txt") {
			t.Error("Remote file still exists")
		}
		entries, _ := f.nav.List(f.sess, "/srv")
		if len(entries) != 0 {
			t.Errorf("Parent listing stale after delete: %v", entries)
		}
	})

	t.Run("Error Handling: deleting a missing file fails the task", func(t *testing.T) {
		f := newFixture(t, Config{})
		task, _ := f.engine.Delete(f.sess, "/missing")
		if state := waitTerminal(t, task); state != StateFailed {
			t.Fatalf("Expected StateFailed, got %v", state)
		}
	})
}

func TestEngine_SessionClose(t *testing.T) {
	t.Run("Side Effects: closing the session fails its live tasks", func(t *testing.T) {
		f := newFixture(t, Config{ChunkSize: 4})
		f.mem.FS.WriteFile("/srv/file.txt", []byte("0123456789abcdef"))

		release := make(chan struct{})
		f.mem.ErrHook = func(op, path string) error {
			if op == "read" {
				<-release
			}
			return nil
		}

		local := filepath.Join(t.TempDir(), "file.txt")
		task, _ := f.engine.Download(f.sess, "/srv/file.txt", local)

		deadline := time.Now().Add(2 * time.Second)
		for task.State() != StateRunning && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		f.registry.Close(f.sess.ID())
		close(release)

		if state := waitTerminal(t, task); state != StateFailed {
			t.Fatalf("Expected StateFailed, got %v", state)
		}
		if !errors.Is(task.Err(), session.ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", task.Err())
		}
	})
}

func TestEngine_Bookkeeping(t *testing.T) {
	t.Run("Core Functionality: Ack reaps only terminal tasks", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.mem.FS.WriteFile("/srv/f.txt", []byte("x"))
		local := filepath.Join(t.TempDir(), "f.txt")

		task, _ := f.engine.Download(f.sess, "/srv/f.txt", local)
		waitTerminal(t, task)

		if err := f.engine.Ack(task.ID); err != nil {
			t.Fatalf("Ack failed: %v", err)
		}
		if _, ok := f.engine.Task(task.ID); ok {
			t.Error("Task record still present after Ack")
		}
		if err := f.engine.Ack(task.ID); err == nil {
			t.Error("Second Ack should fail")
		}
	})

	t.Run("Core Functionality: Tasks snapshots are ordered by ID", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.mem.FS.WriteFile("/srv/a", []byte("a"))
		f.mem.FS.WriteFile("/srv/b", []byte("b"))
		dir := t.TempDir()

		t1, _ := f.engine.Download(f.sess, "/srv/a", filepath.Join(dir, "a"))
		t2, _ := f.engine.Download(f.sess, "/srv/b", filepath.Join(dir, "b"))
		waitTerminal(t, t1)
		waitTerminal(t, t2)

		snaps := f.engine.Tasks()
		if len(snaps) != 2 || snaps[0].TaskID >= snaps[1].TaskID {
			t.Errorf("Unexpected snapshots: %+v", snaps)
		}
	})
}
