package ingress

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sensorpulse/ingest/internal/config"
	"github.com/sensorpulse/ingest/internal/domain"
	"github.com/sensorpulse/ingest/internal/metrics"
	"github.com/sensorpulse/ingest/internal/queue"
)

func newTestServer(t *testing.T, capacity int, writeTimeoutMs int) (*Server, *queue.Queue) {
	t.Helper()
	cfg := config.Default()
	cfg.QueueCapacity = capacity
	cfg.WriteTimeoutMs = writeTimeoutMs
	cfg.HTTPThreads = 4

	m := metrics.New(prometheus.NewRegistry())
	q := queue.New(capacity, m)
	return New(cfg, q, m, zap.NewNop()), q
}

func TestHandleIngest_WrongRoute404(t *testing.T) {
	srv, _ := newTestServer(t, 10, 200)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	assertJSONField(t, w.Body.Bytes(), "error", "not found")
	assertJSONField(t, w.Body.Bytes(), "msg", "")
}

func TestHandleIngest_MalformedBody400(t *testing.T) {
	srv, _ := newTestServer(t, 10, 200)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString("not json"))
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleIngest_QueueFull503(t *testing.T) {
	srv, q := newTestServer(t, 1, 200)
	// Fill the queue so TryPush fails for the handler's own request.
	if !q.TryPush(&domain.EnqueuedTask{RequestID: "filler"}) {
		t.Fatal("setup: failed to fill queue")
	}

	body := `{"sensor_id":"s1","ts":1730000000,"metrics":{"a":1.5}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHandleIngest_SoftAckTimeout202(t *testing.T) {
	srv, q := newTestServer(t, 10, 20) // 20ms timeout, nobody drains the queue

	body := `{"sensor_id":"s1","ts":1730000000,"metrics":{"a":1.5,"b":2.5}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))
	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	// The task should still be sitting on the queue: nothing drained it.
	task, ok := q.Pop()
	if !ok {
		t.Fatal("expected the task to still be enqueued")
	}
	if task.SensorID != "s1" || len(task.KV) != 2 {
		t.Errorf("unexpected task: %+v", task)
	}
}

func TestHandleIngest_WriterResolvesBeforeTimeout200(t *testing.T) {
	srv, q := newTestServer(t, 10, 5000) // generous timeout; writer wins the race

	body := `{"sensor_id":"s1","ts":1730000000,"metrics":{"a":1.5}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))

	done := make(chan struct{})
	go func() {
		srv.httpServer.Handler.ServeHTTP(w, req)
		close(done)
	}()

	task, ok := q.Pop()
	if !ok {
		t.Fatal("expected a task on the queue")
	}
	task.Reply.Resolve(http.StatusOK, `{"status":"ok"}`)

	<-done
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func assertJSONField(t *testing.T, body []byte, field, want string) {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("response body is not JSON: %v (%s)", err, body)
	}
	if m[field] != want {
		t.Errorf("field %q = %q, want %q", field, m[field], want)
	}
}
