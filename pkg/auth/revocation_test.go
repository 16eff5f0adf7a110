package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevocationStoreRevokeClaims(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expires := time.Now().Add(24 * time.Hour)
	mock.ExpectExec("INSERT INTO revoked_tokens").
		WithArgs("jti-1", int64(42), expires).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewRevocationStore(db)
	claimed, err := store.Revoke(context.Background(), "jti-1", 42, expires)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevocationStoreRevokeAlreadyClaimed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expires := time.Now().Add(24 * time.Hour)
	mock.ExpectExec("INSERT INTO revoked_tokens").
		WithArgs("jti-1", int64(42), expires).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewRevocationStore(db)
	claimed, err := store.Revoke(context.Background(), "jti-1", 42, expires)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevocationStorePurgeExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM revoked_tokens").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewRevocationStore(db)
	n, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
