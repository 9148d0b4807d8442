package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

// blockingFetch returns a Func that waits for a value on release or for ctx
// to be cancelled. aborted is closed when the fetch observed cancellation.
func blockingFetch(release <-chan string, aborted chan<- struct{}) Func[int, string] {
	return func(ctx context.Context, _ int) (string, error) {
		select {
		case v := <-release:
			return v, nil
		case <-ctx.Done():
			close(aborted)
			return "", ctx.Err()
		}
	}
}

func waitDone[K, V any](t *testing.T, tk *Task[K, V]) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestStart_ReturnsFetching(t *testing.T) {
	release := make(chan string)
	tk := Start(context.Background(), 1, 7, blockingFetch(release, make(chan struct{})), nil)
	defer tk.Cancel()

	if got := tk.State(); got != Fetching {
		t.Errorf("State: got %v, want fetching", got)
	}
	if tk.Key() != 1 || tk.Generation() != 7 {
		t.Errorf("Key/Generation: got %d/%d, want 1/7", tk.Key(), tk.Generation())
	}
}

func TestTask_CompletesWithValue(t *testing.T) {
	results := make(chan Result[int, string], 1)
	fn := func(_ context.Context, key int) (string, error) { return "page-1", nil }

	tk := Start(context.Background(), 1, 3, fn, func(r Result[int, string]) { results <- r })

	select {
	case r := <-results:
		if r.Err != nil {
			t.Fatalf("Err: %v", r.Err)
		}
		if r.Value != "page-1" || r.Key != 1 || r.Generation != 3 {
			t.Errorf("result: got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onDone not called")
	}
	waitDone(t, tk)
	if got := tk.State(); got != Completed {
		t.Errorf("State: got %v, want completed", got)
	}
}

func TestTask_FailureWrapsError(t *testing.T) {
	boom := errors.New("status 502")
	results := make(chan Result[int, string], 1)
	fn := func(context.Context, int) (string, error) { return "", boom }

	tk := Start(context.Background(), 2, 9, fn, func(r Result[int, string]) { results <- r })
	r := <-results
	waitDone(t, tk)

	var fe *FetchError
	if !errors.As(r.Err, &fe) {
		t.Fatalf("Err: got %T, want *FetchError", r.Err)
	}
	if fe.Generation != 9 {
		t.Errorf("FetchError.Generation: got %d, want 9", fe.Generation)
	}
	if !errors.Is(r.Err, boom) {
		t.Errorf("errors.Is(Err, boom) = false")
	}
	if got := tk.State(); got != Failed {
		t.Errorf("State: got %v, want failed", got)
	}
}

func TestTask_PanicBecomesFailure(t *testing.T) {
	results := make(chan Result[int, string], 1)
	fn := func(context.Context, int) (string, error) { panic("decoder exploded") }

	tk := Start(context.Background(), 0, 1, fn, func(r Result[int, string]) { results <- r })
	r := <-results
	waitDone(t, tk)

	if !errors.Is(r.Err, ErrPanic) {
		t.Errorf("Err: got %v, want ErrPanic", r.Err)
	}
	if got := tk.State(); got != Failed {
		t.Errorf("State: got %v, want failed", got)
	}
}

func TestCancel_AbortsTransportAndSuppressesCallback(t *testing.T) {
	release := make(chan string)
	aborted := make(chan struct{})
	called := make(chan struct{}, 1)

	tk := Start(context.Background(), 1, 1, blockingFetch(release, aborted), func(Result[int, string]) {
		called <- struct{}{}
	})

	if !tk.Cancel() {
		t.Fatal("first Cancel: got false, want true")
	}
	if tk.Cancel() {
		t.Error("second Cancel: got true, want false")
	}

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("transport context was not cancelled")
	}
	waitDone(t, tk)

	select {
	case <-called:
		t.Error("onDone fired after Cancel")
	case <-time.After(20 * time.Millisecond):
	}
	if got := tk.State(); got != Cancelled {
		t.Errorf("State: got %v, want cancelled", got)
	}
}

func TestCancel_TransportIgnoringAbortStillSuppressed(t *testing.T) {
	release := make(chan struct{})
	called := make(chan struct{}, 1)
	// This transport never looks at ctx and completes "behind" the abort.
	fn := func(context.Context, int) (string, error) {
		<-release
		return "late", nil
	}

	tk := Start(context.Background(), 1, 1, fn, func(Result[int, string]) { called <- struct{}{} })
	tk.Cancel()
	close(release)
	waitDone(t, tk)

	select {
	case <-called:
		t.Error("onDone fired for a cancelled task")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCancel_AfterCompletionIsNoop(t *testing.T) {
	fn := func(context.Context, int) (string, error) { return "ok", nil }
	tk := Start(context.Background(), 1, 1, fn, nil)
	waitDone(t, tk)

	if tk.Cancel() {
		t.Error("Cancel after completion: got true, want false")
	}
	if got := tk.State(); got != Completed {
		t.Errorf("State: got %v, want completed", got)
	}
}

func TestCancel_OnlyFromFetching(t *testing.T) {
	var zero State
	if zero != Pending {
		t.Fatalf("zero State: got %v, want pending", zero)
	}
	var unstarted Task[int, string]
	if unstarted.Cancel() {
		t.Error("Cancel on an unstarted task: got true, want false")
	}

	fn := func(context.Context, int) (string, error) { return "", errors.New("boom") }
	tk := Start(context.Background(), 1, 1, fn, nil)
	waitDone(t, tk)
	if tk.Cancel() {
		t.Error("Cancel after failure: got true, want false")
	}
	if got := tk.State(); got != Failed {
		t.Errorf("State: got %v, want failed", got)
	}
}

func TestStart_ParentContextCancelledFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := make(chan Result[int, string], 1)
	fn := func(ctx context.Context, _ int) (string, error) { return "", ctx.Err() }
	tk := Start(ctx, 1, 1, fn, func(r Result[int, string]) { results <- r })
	r := <-results
	waitDone(t, tk)

	if !errors.Is(r.Err, context.Canceled) {
		t.Errorf("Err: got %v, want context.Canceled", r.Err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s        State
		want     string
		terminal bool
	}{
		{Pending, "pending", false},
		{Fetching, "fetching", false},
		{Completed, "completed", true},
		{Cancelled, "cancelled", true},
		{Failed, "failed", true},
		{State(99), "state(99)", false},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("String(): got %q, want %q", got, tc.want)
		}
		if got := tc.s.Terminal(); got != tc.terminal {
			t.Errorf("%s Terminal(): got %v, want %v", tc.want, got, tc.terminal)
		}
	}
}
