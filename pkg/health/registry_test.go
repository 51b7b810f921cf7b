package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"
)

func healthyChecker() Checker {
	return NewFuncChecker("ok", func(ctx context.Context) Result {
		return Result{Healthy: true, Message: "fine", CheckedAt: time.Now()}
	})
}

func unhealthyChecker(msg string) Checker {
	return NewFuncChecker("bad", func(ctx context.Context) Result {
		return Result{Healthy: false, Message: msg, CheckedAt: time.Now()}
	})
}

func TestReadyHandlerReportsReadyWhenAllCheckersHealthy(t *testing.T) {
	r := NewRegistry("v1", time.Hour, time.Second)
	r.Register("store", healthyChecker())
	r.pollAll()

	rec := httptest.NewRecorder()
	r.ReadyHandler()(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Status != "ready" {
		t.Errorf("expected ready, got %s", rep.Status)
	}
}

func TestReadyHandlerReportsNotReadyWhenAnyCheckerUnhealthy(t *testing.T) {
	r := NewRegistry("v1", time.Hour, time.Second)
	r.Register("store", healthyChecker())
	r.Register("kv", unhealthyChecker("disk full"))
	r.pollAll()

	rec := httptest.NewRecorder()
	r.ReadyHandler()(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != 503 {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestLiveHandlerIgnoresCheckerResults(t *testing.T) {
	r := NewRegistry("v1", time.Hour, time.Second)
	r.Register("kv", unhealthyChecker("disk full"))
	r.pollAll()

	rec := httptest.NewRecorder()
	r.LiveHandler()(rec, httptest.NewRequest("GET", "/livez", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
