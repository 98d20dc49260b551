// Package postgres batches issued-id records into Postgres, connecting
// with sql.Open("postgres", ...)+Ping and building inserts with
// Masterminds/squirrel.
package postgres

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zfair/uniqd/internal/provider/audit"
)

const defaultFlushInterval = 2 * time.Second
const defaultQueueDepth = 4096
const defaultBatchSize = 256

// Log is the postgres-backed audit.Log.
type Log struct {
	logger *zap.Logger
	db     *sql.DB

	queue chan audit.Entry
	done  chan struct{}
}

var _ audit.Log = (*Log)(nil)

// New creates an unconfigured postgres Log.
func New(logger *zap.Logger) *Log {
	return &Log{
		logger: logger,
		queue:  make(chan audit.Entry, defaultQueueDepth),
		done:   make(chan struct{}),
	}
}

func (l *Log) Name() string { return "postgres" }

// Configure connects to Postgres using config["dsn"] and starts the
// batching goroutine. Table creation is an operational concern left to
// migrations; the schema is assumed to already exist.
func (l *Log) Configure(ctx context.Context, config map[string]interface{}) error {
	dsn, _ := config["dsn"].(string)
	if dsn == "" {
		return errors.New("audit postgres: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return errors.Wrap(err, "audit postgres: open")
	}
	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "audit postgres: ping")
	}
	l.db = db
	go l.run()
	return nil
}

// Record enqueues e, dropping the oldest pending entry and logging a
// warning if the queue is full. It never blocks.
func (l *Log) Record(e audit.Entry) {
	select {
	case l.queue <- e:
	default:
		select {
		case <-l.queue:
		default:
		}
		select {
		case l.queue <- e:
		default:
		}
		l.logger.Warn("audit queue full, dropped oldest pending record")
	}
}

func (l *Log) run() {
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	batch := make([]audit.Entry, 0, defaultBatchSize)
	for {
		select {
		case <-l.done:
			l.flush(batch)
			return
		case e := <-l.queue:
			batch = append(batch, e)
			if len(batch) >= defaultBatchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (l *Log) flush(batch []audit.Entry) {
	if len(batch) == 0 {
		return
	}
	builder := sq.Insert("issued_ids").Columns("label", "seq", "id", "app_user", "issued_at")
	for _, e := range batch {
		builder = builder.Values(e.Label, e.Seq, e.ID, e.User, e.IssuedAt)
	}
	query, args, err := builder.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		l.logger.Error("audit: build insert failed", zap.Error(err))
		return
	}
	if _, err := l.db.Exec(query, args...); err != nil {
		l.logger.Error("audit: insert failed", zap.Error(err), zap.Int("batch_size", len(batch)))
	}
}

func (l *Log) Close() error {
	close(l.done)
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
