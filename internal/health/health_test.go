package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func serveReadyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(StateCheck("device", func() bool { return false }, "stream closed"))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Uptime == "" {
		t.Error("uptime missing")
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestReadyz_DeviceAndSettings(t *testing.T) {
	var open atomic.Bool
	open.Store(true)
	h := New(
		StateCheck("device", open.Load, "audio stream is not open"),
		PingCheck("settings", fakePinger{}),
	)

	code, body := serveReadyz(t, h, context.Background())
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Checks["device"] != "ok" || body.Checks["settings"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}

	open.Store(false)
	code, body = serveReadyz(t, h, context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if body.Checks["device"] != "fail: audio stream is not open" {
		t.Errorf("device check = %q", body.Checks["device"])
	}
	if body.Checks["settings"] != "ok" {
		t.Errorf("settings check = %q, want ok", body.Checks["settings"])
	}
}

func TestReadyz_PingFails(t *testing.T) {
	h := New(PingCheck("settings", fakePinger{err: errors.New("database is locked")}))

	code, body := serveReadyz(t, h, context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Checks["settings"] != "fail: database is locked" {
		t.Errorf("settings check = %q", body.Checks["settings"])
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	code, body := serveReadyz(t, New(), context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	// Each check waits for the other to start; sequential evaluation would
	// time out.
	a, b := make(chan struct{}), make(chan struct{})
	wait := func(mine, other chan struct{}) func(context.Context) error {
		return func(ctx context.Context) error {
			close(mine)
			select {
			case <-other:
				return nil
			case <-time.After(time.Second):
				return errors.New("peer never started")
			}
		}
	}
	h := New(
		Checker{Name: "a", Check: wait(a, b)},
		Checker{Name: "b", Check: wait(b, a)},
	)

	code, body := serveReadyz(t, h, context.Background())
	if code != http.StatusOK {
		t.Errorf("status = %d, checks = %v", code, body.Checks)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(StateCheck("device", func() bool { return true }, "closed"))

	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, _ := serveReadyz(t, h, ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}
