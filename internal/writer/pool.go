// Package writer implements the writer pool: ch_pool_size long-lived
// goroutines, each owning one ClickHouse connection, draining the bounded
// queue, batching rows, inserting, and resolving the caller's reply.
package writer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sensorpulse/ingest/internal/config"
	"github.com/sensorpulse/ingest/internal/domain"
	"github.com/sensorpulse/ingest/internal/metrics"
	"github.com/sensorpulse/ingest/internal/queue"
	"github.com/sensorpulse/ingest/pkg/errors"
)

const reconnectDelay = 3 * time.Second
const reconnectPoll = 100 * time.Millisecond

// Mirror is the optional best-effort side channel a writer notifies after
// a confirmed insert. Implementations must never block or fail the
// request; internal/mirror provides the Redis-backed one.
type Mirror interface {
	Save(ctx context.Context, task *domain.EnqueuedTask)
}

// chWriter is the subset of *chConn that drain depends on. Pulled out as
// an interface so tests can drive the reconnect decision with a fake
// connection instead of a live ClickHouse server.
type chWriter interface {
	insertRows(ctx context.Context, rows []domain.Row) error
	close()
}

func defaultDial(ctx context.Context, cfg config.Config) (chWriter, error) {
	return dialClickHouse(ctx, cfg)
}

// Pool owns the set of writer goroutines.
type Pool struct {
	cfg     config.Config
	queue   *queue.Queue
	metrics *metrics.Metrics
	logger  *zap.Logger
	mirror  Mirror
	dial    func(ctx context.Context, cfg config.Config) (chWriter, error)

	done chan struct{}
}

// NewPool constructs a Pool. mirror may be nil.
func NewPool(cfg config.Config, q *queue.Queue, m *metrics.Metrics, logger *zap.Logger, mirror Mirror) *Pool {
	return &Pool{
		cfg:     cfg,
		queue:   q,
		metrics: m,
		logger:  logger,
		mirror:  mirror,
		dial:    defaultDial,
		done:    make(chan struct{}),
	}
}

// Start launches cfg.ChPoolSize workers. A worker exits only once the
// queue has stopped: a draining worker exits when queue.Pop reports
// "stopped" after queue.Stop(), and a worker in a reconnect sleep exits
// once ctx is cancelled and the queue has also stopped.
func (p *Pool) Start(ctx context.Context) {
	n := p.cfg.ChPoolSize
	if n <= 0 {
		n = 1
	}
	go func() {
		defer close(p.done)
		workerDone := make(chan struct{}, n)
		for i := 0; i < n; i++ {
			go func(id int) {
				p.runWorker(ctx, id)
				workerDone <- struct{}{}
			}(i)
		}
		for i := 0; i < n; i++ {
			<-workerDone
		}
	}()
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	<-p.done
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("writer_id", id))

	for {
		conn, err := p.dial(ctx, p.cfg)
		if err != nil {
			if chErr, ok := err.(*errors.Error); ok && chErr.Code == errors.CodeFatalConfig {
				log.Error("writer exiting: fatal configuration", zap.Error(err))
				return
			}
			log.Warn("clickhouse connect failed, retrying", zap.Error(err))
			if !p.sleepReconnect(ctx) {
				return
			}
			continue
		}

		if p.drain(ctx, conn, log) {
			conn.close()
			return
		}
		conn.close()
	}
}

// sleepReconnect waits reconnectDelay, polling ctx every reconnectPoll so
// shutdown is honoured within ~100ms. Returns false if ctx was cancelled
// and the queue has also stopped (meaning the worker should exit instead
// of retrying).
func (p *Pool) sleepReconnect(ctx context.Context) bool {
	deadline := time.Now().Add(reconnectDelay)

	for time.Now().Before(deadline) {
		timer := time.NewTimer(reconnectPoll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
		if ctx.Err() != nil && p.queue.Stopped() {
			return false
		}
	}
	return true
}

// drain pops tasks until the queue reports stopped-and-empty, or a
// connection error tears down conn. Returns true if it exited because
// the queue stopped (worker should fully exit), false if it should
// reconnect.
func (p *Pool) drain(ctx context.Context, conn chWriter, log *zap.Logger) bool {
	for {
		task, ok := p.queue.Pop()
		if !ok {
			return true
		}

		rows := buildRows(task)
		start := time.Now()
		err := conn.insertRows(ctx, rows)
		p.metrics.ObserveInsertDuration(time.Since(start).Seconds())

		if err != nil {
			insertErr := errors.InsertFailure(err).WithDetails(err.Error())
			log.Warn("insert failed, tearing down connection", zap.Error(insertErr), zap.String("request_id", task.RequestID))
			if task.Reply != nil {
				task.Reply.Resolve(insertErr.HTTPStatus(), `{"status":"error","msg":"`+jsonEscape(insertErr.Details)+`"}`)
			}
			return false
		}

		p.metrics.AddRowsInserted(len(rows))
		if task.Reply != nil {
			task.Reply.Resolve(200, `{"status":"ok"}`)
		}
		if p.mirror != nil {
			p.mirror.Save(ctx, task)
		}
	}
}

func buildRows(task *domain.EnqueuedTask) []domain.Row {
	ts := domain.NormalizeTimestamp(task.TS)
	rows := make([]domain.Row, len(task.KV))
	for i, kv := range task.KV {
		rows[i] = domain.Row{SensorID: task.SensorID, TSSecond: ts, Key: kv.Key, Value: kv.Value}
	}
	return rows
}

func jsonEscape(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch r {
		case '"', '\\':
			out = append(out, '\\', byte(r))
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, string(r)...)
		}
	}
	return string(out)
}
