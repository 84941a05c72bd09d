package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/sparedes88/projector/pkg/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresSongs) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresSongs(db, zap.NewNop())
}

func TestPostgresSongs_GetSong_NormalizesLyrics(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"tenant", "id", "title", "verses", "updated_at"}).
		AddRow("tenant-1", "song-1", "Amazing Grace", []byte(`["line one", {"text": "line two"}]`), time.Now())

	mock.ExpectQuery(`SELECT tenant, id, title, verses, updated_at FROM songs WHERE tenant = \$1 AND id = \$2`).
		WithArgs("tenant-1", "song-1").
		WillReturnRows(rows)

	song, err := repo.GetSong(context.Background(), "tenant-1", "song-1")
	require.NoError(t, err)

	text0, ok := song.VerseText(0)
	require.True(t, ok)
	assert.Equal(t, "line one", text0)
	text1, ok := song.VerseText(1)
	require.True(t, ok)
	assert.Equal(t, "line two", text1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSongs_GetSong_NotFound(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT tenant, id, title, verses, updated_at FROM songs`).
		WithArgs("tenant-1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"tenant", "id", "title", "verses", "updated_at"}))

	_, err := repo.GetSong(context.Background(), "tenant-1", "missing")
	assert.ErrorIs(t, err, broadcast.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSongs_CreateSong(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO songs`).
		WithArgs("tenant-1", sqlmock.AnyArg(), "Amazing Grace", `["a","b"]`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	song, err := repo.CreateSong(context.Background(), broadcast.Song{
		Tenant: "tenant-1",
		Title:  "Amazing Grace",
		Verses: []broadcast.Verse{"a", "b"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, song.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSongs_CreateSong_Duplicate(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO songs`).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := repo.CreateSong(context.Background(), broadcast.Song{Tenant: "tenant-1", ID: "song-1", Title: "x"})
	assert.ErrorIs(t, err, broadcast.ErrExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSongs_ListSongs(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"tenant", "id", "title", "verses", "updated_at"}).
		AddRow("tenant-1", "song-1", "Amazing Grace", []byte(`["a"]`), now).
		AddRow("tenant-1", "song-2", "Be Thou My Vision", []byte(`[]`), now)

	mock.ExpectQuery(`SELECT tenant, id, title, verses, updated_at FROM songs WHERE tenant = \$1 ORDER BY title, id`).
		WithArgs("tenant-1").
		WillReturnRows(rows)

	songs, err := repo.ListSongs(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, songs, 2)
	assert.Equal(t, "Be Thou My Vision", songs[1].Title)
	assert.Empty(t, songs[1].Verses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSongs_UpdateSong_NotFound(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE songs SET`).
		WithArgs("tenant-1", "missing", "t", `[]`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.UpdateSong(context.Background(), broadcast.Song{Tenant: "tenant-1", ID: "missing", Title: "t"})
	assert.ErrorIs(t, err, broadcast.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSongs_DeleteSong(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM songs WHERE tenant = \$1 AND id = \$2`).
		WithArgs("tenant-1", "song-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteSong(context.Background(), "tenant-1", "song-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSongs_CreateSchema(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS songs`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.CreateSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
