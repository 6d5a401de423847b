package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

// Config holds database configuration
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
}

// WriteRequest is a queued archive write.
type WriteRequest struct {
	Record   *SessionRecord
	Callback func(error)
}

// Client archives finished sessions. Writes queued through ArchiveSession
// are performed by a small worker pool; Close drains the queue.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger

	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	stopOnce   sync.Once
	workerWg   sync.WaitGroup
}

// Open connects with cfg.Driver ("postgres" or "sqlite3") and starts the
// write workers.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	if cfg.Driver != "postgres" && cfg.Driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported archive driver %q", cfg.Driver)
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}

	raw, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	raw.SetMaxOpenConns(cfg.MaxConnections)
	raw.SetMaxIdleConns(cfg.IdleConnections)
	raw.SetConnMaxLifetime(cfg.MaxLifetime)

	client := NewClient(raw, cfg, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.db.PingContext(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client.logger.Info("Archive database initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Int("workers", client.workers),
	)
	return client, nil
}

// NewClient wraps an open connection.
func NewClient(raw *sqlx.DB, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	c := &Client{
		db:         circuitbreaker.NewDatabaseWrapper(raw, "archive", logger),
		logger:     logger,
		writeQueue: make(chan WriteRequest, cfg.QueueSize),
		workers:    cfg.Workers,
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
	return c
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Debug("Archive worker stopped", zap.Int("worker_id", id))
			return
		case req := <-c.writeQueue:
			c.processWrite(req)
		}
	}
}

func (c *Client) processWrite(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.SaveSession(ctx, req.Record)
	if err != nil {
		c.logger.Error("Failed to archive session", zap.String("session_id", req.Record.ID), zap.Error(err))
	}
	if req.Callback != nil {
		req.Callback(err)
	}
}

func (c *Client) drainQueue() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining archive queue")
			return
		default:
			return
		}
	}
}

// QueueWrite enqueues rec. When the queue is full the write runs
// synchronously instead of being dropped.
func (c *Client) QueueWrite(rec *SessionRecord, callback func(error)) {
	req := WriteRequest{Record: rec, Callback: callback}
	select {
	case c.writeQueue <- req:
	default:
		c.logger.Warn("Archive queue is full, falling back to synchronous write",
			zap.String("session_id", rec.ID))
		c.processWrite(req)
	}
}

// ArchiveSession implements session.Archiver.
func (c *Client) ArchiveSession(ctx context.Context, s *research.Session) error {
	c.QueueWrite(RecordFromSession(s), nil)
	return nil
}

// Close stops the workers after draining and closes the pool.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.workerWg.Wait()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Wrapper returns the circuit breaker wrapped connection for health checks.
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// SaveSession upserts rec.
func (c *Client) SaveSession(ctx context.Context, rec *SessionRecord) error {
	_, err := c.db.NamedExecContext(ctx, upsertSessionQuery, rec)
	if err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to save session %s: %w", rec.ID, err)
	}
	metrics.ArchiveWrites.WithLabelValues("success").Inc()
	return nil
}

// GetSession loads one archived session. Missing rows return sql.ErrNoRows.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	if err := c.db.GetContext(ctx, &rec, c.db.Rebind(selectSessionQuery+" WHERE id = ?"), id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecent returns up to limit sessions, newest first.
func (c *Client) ListRecent(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []SessionRecord
	query := c.db.Rebind(selectSessionQuery + " ORDER BY created_at DESC LIMIT ?")
	if err := c.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return recs, nil
}

// Migrate creates the archive table if it does not exist.
func (c *Client) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if c.db.DriverName() == "sqlite3" {
		schema = sqliteSchema
	}
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate archive: %w", err)
	}
	return nil
}
