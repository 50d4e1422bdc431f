package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/sensorpulse/ingest/internal/config"
	"github.com/sensorpulse/ingest/internal/domain"
	"github.com/sensorpulse/ingest/pkg/errors"
)

// chConn wraps a single ClickHouse connection dedicated to one writer.
// Exactly one worker owns a chConn at a time; there is no sharing.
type chConn struct {
	conn  driver.Conn
	table string
}

// dialClickHouse validates the configured port and opens a connection,
// issuing a liveness probe before returning it. A port outside 0..65535
// is CodeFatalConfig and must not be retried.
func dialClickHouse(ctx context.Context, cfg config.Config) (*chConn, error) {
	if cfg.ChPort < 0 || cfg.ChPort > 65535 {
		return nil, errors.FatalConfig(fmt.Sprintf("ch_port %d out of range 0..65535", cfg.ChPort))
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.ChHost, cfg.ChPort)},
		Auth: clickhouse.Auth{
			Database: cfg.ChDatabase,
			Username: cfg.ChUser,
			Password: cfg.ChPassword,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, errors.ConnectionLoss(err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.ConnectionLoss(err)
	}

	return &chConn{conn: conn, table: cfg.ChTable}, nil
}

// insertRows builds the four column arrays and issues a single batched
// Insert for all rows belonging to one task. One task = one batch: the
// design deliberately never coalesces multiple tasks, to preserve a
// per-request success/failure signal.
func (c *chConn) insertRows(ctx context.Context, rows []domain.Row) error {
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (sensor_id, ts, key, value)", c.table,
	))
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := batch.Append(row.SensorID, time.Unix(row.TSSecond, 0).UTC(), row.Key, row.Value); err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *chConn) close() {
	_ = c.conn.Close()
}
