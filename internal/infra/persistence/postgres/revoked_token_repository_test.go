package postgres

import (
	"context"
	"testing"
	"time"

	"repohub/internal/domain/entity"
	"repohub/internal/domain/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashToken(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashToken("abc"))
	assert.Len(t, HashToken("any.jwt.value"), 64)
}

func TestFromRevokedTokenDomain(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*60*60)
	revokedAt := time.Date(2026, 1, 1, 8, 0, 0, 0, loc)
	expiresAt := time.Date(2026, 1, 8, 8, 0, 0, 0, loc)

	m := fromRevokedTokenDomain(&entity.RevokedToken{
		TokenHash: HashToken("token-a"),
		RevokedAt: revokedAt,
		ExpiresAt: expiresAt,
	})

	assert.Equal(t, HashToken("token-a"), m.TokenHash)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), m.RevokedAt)
	assert.Equal(t, time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC), m.ExpiresAt)
	assert.Zero(t, m.ID)
}

func TestRevokedTokenRepository_Revoke(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRevokedTokenRepository(db)

	expiresAt := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO "revoked_tokens" .* ON CONFLICT DO NOTHING RETURNING "id"`).
		WithArgs(HashToken("token-a"), sqlmock.AnyArg(), expiresAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	require.NoError(t, repo.Revoke(context.Background(), "token-a", expiresAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokedTokenRepository_Revoke_AlreadyRevoked(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRevokedTokenRepository(db)

	mock.ExpectQuery(`INSERT INTO "revoked_tokens"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := repo.Revoke(context.Background(), "token-a", time.Now().Add(time.Hour))
	assert.True(t, errors.Is(err, repository.ErrTokenAlreadyRevoked), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokedTokenRepository_IsRevoked(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRevokedTokenRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "revoked_tokens" WHERE token_hash = \$1`).
		WithArgs(HashToken("token-a")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "revoked_tokens" WHERE token_hash = \$1`).
		WithArgs(HashToken("token-b")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	revoked, err := repo.IsRevoked(context.Background(), "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = repo.IsRevoked(context.Background(), "token-b")
	require.NoError(t, err)
	assert.False(t, revoked)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokedTokenRepository_IsRevoked_Error(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRevokedTokenRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "revoked_tokens"`).WillReturnError(errors.New("timeout"))

	revoked, err := repo.IsRevoked(context.Background(), "token-a")
	assert.Error(t, err)
	assert.False(t, revoked)
}

func TestRevokedTokenRepository_DeleteExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRevokedTokenRepository(db)

	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM "revoked_tokens" WHERE expires_at < \$1`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteExpired(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
