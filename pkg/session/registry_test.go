package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"skiff/pkg/transport"
)

func testProfile() transport.Profile {
	return transport.Profile{Host: "h", Port: 22, Username: "u"}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	t.Run("Core Functionality: establish and reuse a session", func(t *testing.T) {
		mem := transport.NewMem("secret")
		r := NewRegistry(mem)

		sess, err := r.GetOrCreate(context.Background(), testProfile(), transport.Password("secret"))
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		if state, _ := sess.State(); state != StateReady {
			t.Errorf("Expected StateReady, got %v", state)
		}
		if sess.ID() != "u@h:22" {
			t.Errorf("Unexpected identity: %s", sess.ID())
		}

		again, err := r.GetOrCreate(context.Background(), testProfile(), transport.Password("secret"))
		if err != nil {
			t.Fatalf("Second GetOrCreate failed: %v", err)
		}
		if again != sess {
			t.Error("Expected the same session instance")
		}
		if mem.Dials() != 1 {
			t.Errorf("Expected exactly 1 dial, got %d", mem.Dials())
		}
	})

	t.Run("Error Handling: authentication failure is not retried", func(t *testing.T) {
		mem := transport.NewMem("secret")
		r := NewRegistry(mem)

		sess, err := r.GetOrCreate(context.Background(), testProfile(), transport.Password("wrong"))
		if err == nil {
			t.Fatal("Expected an error")
		}
		var authErr *transport.AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("Expected AuthError, got %T: %v", err, err)
		}
		state, reason := sess.State()
		if state != StateFailed {
			t.Errorf("Expected StateFailed, got %v", state)
		}
		if reason == nil {
			t.Error("Expected a failure reason on the session")
		}
		if mem.Dials() != 1 {
			t.Errorf("Expected exactly 1 dial, got %d", mem.Dials())
		}
	})

	t.Run("Error Handling: network failure yields NetworkError", func(t *testing.T) {
		mem := transport.NewMem("")
		mem.ConnectErr = errors.New("connection refused")
		r := NewRegistry(mem)

		_, err := r.GetOrCreate(context.Background(), testProfile(), transport.Password("x"))
		var netErr *transport.NetworkError
		if !errors.As(err, &netErr) {
			t.Fatalf("Expected NetworkError, got %T: %v", err, err)
		}
	})
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	t.Run("Concurrency: N callers share one authentication attempt", func(t *testing.T) {
		mem := transport.NewMem("secret")
		mem.ConnectDelay = 50 * time.Millisecond
		r := NewRegistry(mem)

		const n = 16
		var wg sync.WaitGroup
		sessions := make([]*Session, n)
		errs := make([]error, n)

		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sessions[i], errs[i] = r.GetOrCreate(context.Background(), testProfile(), transport.Password("secret"))
			}(i)
		}
		wg.Wait()

		if mem.Dials() != 1 {
			t.Errorf("Expected exactly 1 dial for %d concurrent callers, got %d", n, mem.Dials())
		}
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				t.Fatalf("Caller %d failed: %v", i, errs[i])
			}
			if sessions[i] != sessions[0] {
				t.Errorf("Caller %d observed a different session", i)
			}
		}
		if state, _ := sessions[0].State(); state != StateReady {
			t.Errorf("Expected StateReady, got %v", state)
		}
	})

	t.Run("Concurrency: shared failure then reconnect with corrected credential", func(t *testing.T) {
		mem := transport.NewMem("secret")
		mem.ConnectDelay = 50 * time.Millisecond
		r := NewRegistry(mem)

		var wg sync.WaitGroup
		sessions := make([]*Session, 2)
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sessions[i], errs[i] = r.GetOrCreate(context.Background(), testProfile(), transport.Password("bad"))
			}(i)
		}
		wg.Wait()

		if mem.Dials() != 1 {
			t.Errorf("Expected exactly 1 dial, got %d", mem.Dials())
		}
		for i := 0; i < 2; i++ {
			var authErr *transport.AuthError
			if !errors.As(errs[i], &authErr) {
				t.Fatalf("Caller %d: expected AuthError, got %v", i, errs[i])
			}
			if sessions[i] != sessions[0] {
				t.Errorf("Caller %d observed a different session", i)
			}
		}
		state, reason := sessions[0].State()
		if state != StateFailed || reason == nil {
			t.Fatalf("Expected Failed with reason, got %v / %v", state, reason)
		}

		sess, err := r.Reconnect(context.Background(), sessions[0].ID(), transport.Password("secret"))
		if err != nil {
			t.Fatalf("Reconnect failed: %v", err)
		}
		if state, _ := sess.State(); state != StateReady {
			t.Errorf("Expected StateReady after reconnect, got %v", state)
		}
	})
}

func TestRegistry_Close(t *testing.T) {
	t.Run("Side Effects: close cancels the session context", func(t *testing.T) {
		mem := transport.NewMem("")
		r := NewRegistry(mem)

		sess, err := r.GetOrCreate(context.Background(), testProfile(), transport.Password("x"))
		if err != nil {
			t.Fatal(err)
		}

		if err := r.Close(sess.ID()); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if state, _ := sess.State(); state != StateClosed {
			t.Errorf("Expected StateClosed, got %v", state)
		}
		select {
		case <-sess.Context().Done():
		default:
			t.Error("Expected session context to be cancelled")
		}
		if _, err := sess.Conn(); !errors.Is(err, ErrNotReady) {
			t.Errorf("Expected ErrNotReady, got %v", err)
		}
	})

	t.Run("Core Functionality: reconnect is valid from Closed", func(t *testing.T) {
		mem := transport.NewMem("")
		r := NewRegistry(mem)

		sess, _ := r.GetOrCreate(context.Background(), testProfile(), transport.Password("x"))
		r.Close(sess.ID())

		sess2, err := r.Reconnect(context.Background(), sess.ID(), transport.Password("x"))
		if err != nil {
			t.Fatalf("Reconnect failed: %v", err)
		}
		if state, _ := sess2.State(); state != StateReady {
			t.Errorf("Expected StateReady, got %v", state)
		}
		select {
		case <-sess2.Context().Done():
			t.Error("Expected a fresh, uncancelled context after reconnect")
		default:
		}
	})

	t.Run("Error Handling: reconnect from Ready is rejected", func(t *testing.T) {
		mem := transport.NewMem("")
		r := NewRegistry(mem)

		sess, _ := r.GetOrCreate(context.Background(), testProfile(), transport.Password("x"))
		if _, err := r.Reconnect(context.Background(), sess.ID(), transport.Password("x")); err == nil {
			t.Error("Expected an error reconnecting a Ready session")
		}
	})

	t.Run("Concurrency: context reads are safe across close and reconnect", func(t *testing.T) {
		mem := transport.NewMem("")
		r := NewRegistry(mem)

		sess, err := r.GetOrCreate(context.Background(), testProfile(), transport.Password("x"))
		if err != nil {
			t.Fatal(err)
		}

		done := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-done:
						return
					default:
					}
					if sess.Context() == nil {
						t.Error("Context returned nil")
						return
					}
				}
			}()
		}

		for i := 0; i < 50; i++ {
			r.Close(sess.ID())
			if _, err := r.Reconnect(context.Background(), sess.ID(), transport.Password("x")); err != nil {
				t.Fatalf("Reconnect failed: %v", err)
			}
		}
		close(done)
		wg.Wait()

		select {
		case <-sess.Context().Done():
			t.Error("Expected the final context to be live")
		default:
		}
	})
}

func TestRegistry_CloseHook(t *testing.T) {
	t.Run("Side Effects: hook runs on Close and CloseAll", func(t *testing.T) {
		mem := transport.NewMem("")
		r := NewRegistry(mem)

		var mu sync.Mutex
		var closed []string
		r.SetCloseHook(func(id string) {
			mu.Lock()
			closed = append(closed, id)
			mu.Unlock()
		})

		sess, err := r.GetOrCreate(context.Background(), testProfile(), transport.Password("x"))
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Close(sess.ID()); err != nil {
			t.Fatal(err)
		}
		if len(closed) != 1 || closed[0] != sess.ID() {
			t.Errorf("Expected hook call for %s, got %v", sess.ID(), closed)
		}

		other := transport.Profile{Host: "h2", Port: 22, Username: "u"}
		if _, err := r.GetOrCreate(context.Background(), other, transport.Password("x")); err != nil {
			t.Fatal(err)
		}
		r.CloseAll()
		mu.Lock()
		n := len(closed)
		mu.Unlock()
		if n != 3 {
			t.Errorf("Expected 3 hook calls after CloseAll, got %d", n)
		}
	})
}

func TestSession_Fault(t *testing.T) {
	t.Run("Side Effects: network fault marks session Failed lazily", func(t *testing.T) {
		mem := transport.NewMem("")
		r := NewRegistry(mem)

		sess, _ := r.GetOrCreate(context.Background(), testProfile(), transport.Password("x"))
		sess.Fault(&transport.NetworkError{Op: "readdir", Err: errors.New("broken pipe")})

		state, reason := sess.State()
		if state != StateFailed {
			t.Errorf("Expected StateFailed, got %v", state)
		}
		if reason == nil {
			t.Error("Expected a recorded reason")
		}
	})

	t.Run("Input Validation: non-network errors do not fault the session", func(t *testing.T) {
		mem := transport.NewMem("")
		r := NewRegistry(mem)

		sess, _ := r.GetOrCreate(context.Background(), testProfile(), transport.Password("x"))
		sess.Fault(errors.New("permission denied"))

		if state, _ := sess.State(); state != StateReady {
			t.Errorf("Expected StateReady, got %v", state)
		}
	})
}

func TestSession_Stats(t *testing.T) {
	t.Run("Core Functionality: parse remote stats output", func(t *testing.T) {
		mem := transport.NewMem("")
		mem.ExecOutput = map[string]string{
			cpuCmd:  "%Cpu(s):  3.1 us,  1.0 sy,  0.0 ni, 95.4 id",
			memCmd:  "Mem:   15Gi   4.2Gi   8.1Gi",
			diskCmd: "/dev/sda1  100G  42G  58G  42% /",
		}
		r := NewRegistry(mem)
		sess, _ := r.GetOrCreate(context.Background(), testProfile(), transport.Password("x"))

		stats, err := sess.Stats()
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.CPU != "User: 3.1%, System: 1.0%, Idle: 95.4%" {
			t.Errorf("Unexpected CPU line: %q", stats.CPU)
		}
		if stats.Memory != "Total: 15Gi, Used: 4.2Gi, Free: 8.1Gi" {
			t.Errorf("Unexpected memory line: %q", stats.Memory)
		}
		if stats.Disk == "" || stats.Disk[0] != 'F' {
			t.Errorf("Unexpected disk line: %q", stats.Disk)
		}
	})
}
