package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a clip is not in the catalog.
var ErrNotFound = errors.New("storage: clip not found")

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// ClipRecord is one catalog row.
type ClipRecord struct {
	ID           string         `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	Path         string         `db:"path" json:"path"`
	StartTime    time.Time      `db:"start_time" json:"start_time"`
	EndTime      time.Time      `db:"end_time" json:"end_time"`
	FrameCount   int            `db:"frame_count" json:"frame_count"`
	MotionFrames int            `db:"motion_frames" json:"motion_frames"`
	StopReason   string         `db:"stop_reason" json:"stop_reason"`
	Labels       pq.StringArray `db:"labels" json:"labels"`
	Comment      string         `db:"comment" json:"comment"`
	ObjectKey    string         `db:"object_key" json:"object_key,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Catalog indexes clips in PostgreSQL.
type Catalog struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// OpenCatalog connects, waits for the database with backoff and creates the
// schema.
func OpenCatalog(ctx context.Context, config PostgresConfig) (*Catalog, error) {
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 2
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 5 * time.Minute
	}

	db, err := sqlx.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ebo := backoff.NewExponentialBackOff()
	ebo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(func() error { return db.PingContext(ctx) }, backoff.WithContext(ebo, ctx)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := NewCatalog(db, nil)
	if err := c.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

// NewCatalog wraps an open database handle.
func NewCatalog(db *sqlx.DB, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.L()
	}
	return &Catalog{db: db, logger: logger.Named("catalog")}
}

const schema = `
CREATE TABLE IF NOT EXISTS clips (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	path          TEXT NOT NULL,
	start_time    TIMESTAMPTZ NOT NULL,
	end_time      TIMESTAMPTZ NOT NULL,
	frame_count   INTEGER NOT NULL,
	motion_frames INTEGER NOT NULL,
	stop_reason   TEXT NOT NULL,
	labels        TEXT[] NOT NULL DEFAULT '{}',
	comment       TEXT NOT NULL DEFAULT '',
	object_key    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_clips_start_time ON clips (start_time DESC);
`

func (c *Catalog) InitSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, schema)
	return err
}

// SaveClip inserts or updates a clip record keyed by ID.
func (c *Catalog) SaveClip(ctx context.Context, rec *ClipRecord) error {
	const q = `
	INSERT INTO clips (id, name, path, start_time, end_time, frame_count, motion_frames, stop_reason, labels, comment, object_key)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		labels = EXCLUDED.labels,
		comment = EXCLUDED.comment,
		object_key = EXCLUDED.object_key`

	if rec.Labels == nil {
		rec.Labels = pq.StringArray{}
	}
	_, err := c.db.ExecContext(ctx, q,
		rec.ID, rec.Name, rec.Path, rec.StartTime, rec.EndTime,
		rec.FrameCount, rec.MotionFrames, rec.StopReason,
		rec.Labels, rec.Comment, rec.ObjectKey)
	if err != nil {
		return fmt.Errorf("save clip %s: %w", rec.Name, err)
	}
	c.logger.Debug("Clip saved", zap.String("name", rec.Name))
	return nil
}

// GetClip looks a clip up by file name.
func (c *Catalog) GetClip(ctx context.Context, name string) (*ClipRecord, error) {
	var rec ClipRecord
	err := c.db.GetContext(ctx, &rec, `SELECT * FROM clips WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get clip %s: %w", name, err)
	}
	return &rec, nil
}

// ListClips returns the newest clips first.
func (c *Catalog) ListClips(ctx context.Context, limit int) ([]ClipRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []ClipRecord
	if err := c.db.SelectContext(ctx, &recs, `SELECT * FROM clips ORDER BY start_time DESC LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	return recs, nil
}

// DeleteClip removes a clip record. Missing records are not an error.
func (c *Catalog) DeleteClip(ctx context.Context, name string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM clips WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete clip %s: %w", name, err)
	}
	return nil
}

func (c *Catalog) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
