package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func TestHealthChecker_Check(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name    string
		checker *HealthChecker
		want    string
	}{
		{"no dependencies", NewHealthChecker("test"), StatusHealthy},
		{"all up", NewHealthChecker("test").AddDependency("upstream", true, ok).AddDependency("redis", false, ok), StatusHealthy},
		{"optional down", NewHealthChecker("test").AddDependency("upstream", true, ok).AddDependency("redis", false, down), StatusDegraded},
		{"critical down", NewHealthChecker("test").AddDependency("upstream", true, down).AddDependency("redis", false, down), StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := tt.checker.Check(context.Background())
			if status.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, status.Status)
			}
			if status.Version != "test" {
				t.Errorf("Expected version test, got %s", status.Version)
			}
			for name, dep := range status.Dependencies {
				if dep.Status == StatusUnhealthy && dep.Message == "" {
					t.Errorf("%s: expected failure message", name)
				}
			}
		})
	}
}

func TestRedisProbe(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	probe := RedisProbe(client)
	if err := probe(context.Background()); err != nil {
		t.Errorf("Expected redis up, got %v", err)
	}

	mr.Close()
	if err := probe(context.Background()); err == nil {
		t.Error("Expected an error once redis is down")
	}
}

func TestHTTPProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/-/ping" {
			w.Write([]byte("{}"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := HTTPProbe(nil, server.URL+"/-/ping")(context.Background()); err != nil {
		t.Errorf("Expected ping to succeed, got %v", err)
	}
	if err := HTTPProbe(server.Client(), server.URL+"/broken")(context.Background()); err == nil {
		t.Error("Expected an error for a 500 answer")
	}

	url := server.URL + "/-/ping"
	server.Close()
	if err := HTTPProbe(nil, url)(context.Background()); err == nil {
		t.Error("Expected an error for a closed server")
	}
}

func TestRegisterHealthRoutes(t *testing.T) {
	tests := []struct {
		name      string
		checker   *HealthChecker
		path      string
		code      int
		wantState string
	}{
		{"live", NewHealthChecker("test"), "/-/health/live", http.StatusOK, StatusHealthy},
		{"ready", NewHealthChecker("test"), "/-/health/ready", http.StatusOK, StatusHealthy},
		{
			"not ready",
			NewHealthChecker("test").AddDependency("upstream", true, func(context.Context) error { return errors.New("down") }),
			"/-/health/ready",
			http.StatusServiceUnavailable,
			StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := mux.NewRouter()
			RegisterHealthRoutes(router, tt.checker)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}

			var body map[string]interface{}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body["status"] != tt.wantState {
				t.Errorf("Expected %s, got %v", tt.wantState, body["status"])
			}
		})
	}
}
