package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	if sm.timeout != DefaultShutdownTimeout {
		t.Errorf("Expected default timeout of %v, got %v", DefaultShutdownTimeout, sm.timeout)
	}
}

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)

	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"redis", "tracer"} {
		sm.RegisterShutdownFunc(name, func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		})
	}

	if err := sm.Shutdown(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if want := []string{"tracer", "redis"}; !reflect.DeepEqual(order, want) {
		t.Errorf("Expected %v, got %v", want, order)
	}
}

func TestShutdownManager_ReportsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)

	var ran atomic.Bool
	sm.RegisterShutdownFunc("tracer", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	sm.RegisterShutdownFunc("redis", func(ctx context.Context) error {
		return errors.New("close failed")
	})

	err := sm.Shutdown()
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "redis: close failed") {
		t.Errorf("Expected named cause, got %v", err)
	}
	if !ran.Load() {
		t.Error("Expected later steps to run after a failure")
	}
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, 20*time.Millisecond)
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	err := sm.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestShutdownManager_RunsOnce(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)

	var calls atomic.Int32
	sm.RegisterShutdownFunc("redis", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := sm.Shutdown(); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("Expected one run, got %d", calls.Load())
	}
}

func TestShutdownManager_DrainsServer(t *testing.T) {
	server := httptest.NewUnstartedServer(http.NotFoundHandler())
	server.Start()
	defer server.Close()

	sm := NewShutdownManager(NewNopLogger(), server.Config, time.Second)
	if err := sm.Shutdown(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := http.Get(server.URL); err == nil {
		t.Error("Expected the server to stop accepting connections")
	}
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sm.WaitForShutdown(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}
