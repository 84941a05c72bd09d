package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sparedes88/projector/pkg/broadcast"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys
const uniqueViolation = "23505"

// SongsSchema creates the songs table
const SongsSchema = `
CREATE TABLE IF NOT EXISTS songs (
	tenant     TEXT NOT NULL,
	id         TEXT NOT NULL,
	title      TEXT NOT NULL,
	verses     JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant, id)
)`

// PostgresSongs is a SongStore on PostgreSQL. Verses are kept as JSONB so
// lyrics written by older clients as {"text": ...} objects still load.
type PostgresSongs struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSongs wraps an open database handle
func NewPostgresSongs(db *sql.DB, logger *zap.Logger) *PostgresSongs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSongs{db: db, logger: logger}
}

// CreateSchema creates the songs table if missing
func (p *PostgresSongs) CreateSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, SongsSchema); err != nil {
		return fmt.Errorf("create songs schema: %w", err)
	}
	return nil
}

// CreateSong inserts a song, assigning an id when empty
func (p *PostgresSongs) CreateSong(ctx context.Context, song broadcast.Song) (broadcast.Song, error) {
	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	verses, err := json.Marshal(versesOrEmpty(song.Verses))
	if err != nil {
		return broadcast.Song{}, err
	}
	song.UpdatedAt = time.Now().UTC()

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO songs (tenant, id, title, verses, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		song.Tenant, song.ID, song.Title, string(verses), song.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return broadcast.Song{}, fmt.Errorf("song %s: %w", song.ID, broadcast.ErrExists)
		}
		p.logger.Error("insert song failed", zap.String("tenant", song.Tenant), zap.Error(err))
		return broadcast.Song{}, fmt.Errorf("insert song: %w", err)
	}
	return song, nil
}

// GetSong loads one song
func (p *PostgresSongs) GetSong(ctx context.Context, tenant, id string) (broadcast.Song, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT tenant, id, title, verses, updated_at FROM songs WHERE tenant = $1 AND id = $2`,
		tenant, id)
	song, err := scanSong(row)
	if err == sql.ErrNoRows {
		return broadcast.Song{}, fmt.Errorf("song %s: %w", id, broadcast.ErrNotFound)
	}
	if err != nil {
		return broadcast.Song{}, fmt.Errorf("get song %s: %w", id, err)
	}
	return song, nil
}

// ListSongs loads a tenant's songs ordered by title
func (p *PostgresSongs) ListSongs(ctx context.Context, tenant string) ([]broadcast.Song, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT tenant, id, title, verses, updated_at FROM songs WHERE tenant = $1 ORDER BY title, id`,
		tenant)
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	defer rows.Close()

	songs := make([]broadcast.Song, 0)
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("scan song: %w", err)
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}

// UpdateSong replaces title and verses of an existing song
func (p *PostgresSongs) UpdateSong(ctx context.Context, song broadcast.Song) (broadcast.Song, error) {
	verses, err := json.Marshal(versesOrEmpty(song.Verses))
	if err != nil {
		return broadcast.Song{}, err
	}
	song.UpdatedAt = time.Now().UTC()

	res, err := p.db.ExecContext(ctx,
		`UPDATE songs SET title = $3, verses = $4, updated_at = $5 WHERE tenant = $1 AND id = $2`,
		song.Tenant, song.ID, song.Title, string(verses), song.UpdatedAt)
	if err != nil {
		return broadcast.Song{}, fmt.Errorf("update song %s: %w", song.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return broadcast.Song{}, fmt.Errorf("song %s: %w", song.ID, broadcast.ErrNotFound)
	}
	return song, nil
}

// DeleteSong removes a song. Screens that reference it are left alone.
func (p *PostgresSongs) DeleteSong(ctx context.Context, tenant, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM songs WHERE tenant = $1 AND id = $2`, tenant, id)
	if err != nil {
		return fmt.Errorf("delete song %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("song %s: %w", id, broadcast.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSong(row rowScanner) (broadcast.Song, error) {
	var (
		song   broadcast.Song
		verses []byte
	)
	if err := row.Scan(&song.Tenant, &song.ID, &song.Title, &verses, &song.UpdatedAt); err != nil {
		return broadcast.Song{}, err
	}
	if len(verses) > 0 {
		if err := json.Unmarshal(verses, &song.Verses); err != nil {
			return broadcast.Song{}, fmt.Errorf("decode verses of %s: %w", song.ID, err)
		}
	}
	return song, nil
}

func versesOrEmpty(v []broadcast.Verse) []broadcast.Verse {
	if v == nil {
		return []broadcast.Verse{}
	}
	return v
}
