// Package ingress implements the HTTP front-end: it accepts POST /ingest
// requests, validates them, hands a task to the bounded queue, and races
// the writer's eventual reply against a soft-ack timer so that every
// connection gets exactly one response.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sensorpulse/ingest/internal/config"
	"github.com/sensorpulse/ingest/internal/domain"
	"github.com/sensorpulse/ingest/internal/metrics"
	"github.com/sensorpulse/ingest/internal/queue"
	"github.com/sensorpulse/ingest/pkg/errors"
)

// Server is the HTTP ingress front-end.
type Server struct {
	cfg     config.Config
	queue   *queue.Queue
	metrics *metrics.Metrics
	logger  *zap.Logger
	sem     chan struct{} // bounds concurrent in-flight requests to http_threads

	httpServer *http.Server
}

// New constructs a Server bound to addr := cfg.Host:cfg.Port, not yet
// listening.
func New(cfg config.Config, q *queue.Queue, m *metrics.Metrics, logger *zap.Logger) *Server {
	threads := cfg.HTTPThreads
	if threads <= 0 {
		threads = 1
	}

	s := &Server{
		cfg:     cfg,
		queue:   q,
		metrics: m,
		logger:  logger,
		sem:     make(chan struct{}, threads),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleNotFound)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}
	return s
}

// Listen binds the configured address without accepting connections yet,
// matching the supervisor's "bind/listen, do not yet accept" startup
// ordering. Any error is returned unwrapped; the supervisor wraps it as
// ListenBindFailure.
func (s *Server) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Serve accepts connections on l until Shutdown is called. Returns
// http.ErrServerClosed on a clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("http ingress accepting connections", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.Serve(l)
}

// Shutdown stops accepting new connections and waits (bounded by ctx) for
// in-flight handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, errors.NotFound())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/ingest" {
		s.handleNotFound(w, r)
		return
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-r.Context().Done():
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		s.metrics.ObserveRequest("400")
		writeError(w, errors.MalformedRequest(err.Error()))
		return
	}

	reply := newReplyHandle()
	task := &domain.EnqueuedTask{
		RequestID: uuid.New().String(),
		SensorID:  req.SensorID,
		TS:        req.TS,
		KV:        toKV(req.Metrics),
		Reply:     reply,
	}

	if !s.queue.TryPush(task) {
		s.metrics.ObserveRequest("503")
		writeError(w, errors.QueueFull())
		return
	}

	timeout := time.Duration(s.cfg.WriteTimeoutMs) * time.Millisecond
	timer := time.AfterFunc(timeout, func() {
		reply.Resolve(http.StatusAccepted, `{"status":"accepted"}`)
	})
	res := <-reply.result
	timer.Stop()

	s.metrics.ObserveRequest(itoa(int64(res.status)))
	writeJSON(w, res.status, res.body)
}

func decodeRequest(r *http.Request) (*domain.IngestRequest, error) {
	var raw struct {
		SensorID *string            `json:"sensor_id"`
		TS       *int64             `json:"ts"`
		Metrics  map[string]float64 `json:"metrics"`
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw.SensorID == nil || *raw.SensorID == "" {
		return nil, errMissingField("sensor_id")
	}
	if raw.TS == nil {
		return nil, errMissingField("ts")
	}
	if len(raw.Metrics) == 0 {
		return nil, errMissingField("metrics")
	}
	return &domain.IngestRequest{SensorID: *raw.SensorID, TS: *raw.TS, Metrics: raw.Metrics}, nil
}

func toKV(m map[string]float64) []domain.KV {
	kv := make([]domain.KV, 0, len(m))
	for k, v := range m {
		kv = append(kv, domain.KV{Key: k, Value: v})
	}
	return kv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// writeError serializes a taxonomy error at its own HTTPStatus as
// {"error":<message>} plus "msg":<details> when details are present, so
// every client-facing error response shares one code->status->body mapping
// instead of each call site hand-rolling its own JSON.
func writeError(w http.ResponseWriter, err *errors.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	w.WriteHeader(err.HTTPStatus())
	fields := map[string]string{"error": err.Message}
	if err.Details != "" {
		fields["msg"] = err.Details
	}
	body, _ := json.Marshal(fields)
	w.Write(body)
}

type missingFieldError struct{ field string }

func errMissingField(field string) error { return &missingFieldError{field: field} }
func (e *missingFieldError) Error() string {
	return "missing or invalid field: " + e.field
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
