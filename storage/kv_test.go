package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingwatch/models"
)

func newTestRedisKV(t *testing.T, namespace string) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := NewRedisKVFromClient(client, namespace)
	t.Cleanup(func() { _ = kv.Close() })
	return kv, mr
}

// exerciseKV runs the behaviour every KV backend must share.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, "listing:1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, kv.Put(ctx, "listing:1", []byte("v1")))
	require.NoError(t, kv.Put(ctx, "listing:1", []byte("v2")))
	got, err := kv.Get(ctx, "listing:1")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	require.NoError(t, kv.PutNew(ctx, "listing:1:history:a", []byte("h")))
	assert.ErrorIs(t, kv.PutNew(ctx, "listing:1:history:a", []byte("other")), models.ErrKeyExists)
	got, err = kv.Get(ctx, "listing:1:history:a")
	require.NoError(t, err)
	assert.Equal(t, "h", string(got))

	require.NoError(t, kv.Put(ctx, "listing:10", []byte("x")))
	require.NoError(t, kv.Put(ctx, "meta:lastRun", []byte("x")))

	keys, err := kv.List(ctx, "listing:1:")
	require.NoError(t, err)
	assert.Equal(t, []string{"listing:1:history:a"}, keys)

	keys, err = kv.List(ctx, "listing:")
	require.NoError(t, err)
	assert.Equal(t, []string{"listing:1", "listing:1:history:a", "listing:10"}, keys)
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemoryKV())
}

func TestRedisKV(t *testing.T) {
	kv, _ := newTestRedisKV(t, "")
	exerciseKV(t, kv)
}

func TestRedisKVNamespace(t *testing.T) {
	kv, mr := newTestRedisKV(t, "lw")
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, "listing:7", []byte("x")))
	assert.True(t, mr.Exists("lw:listing:7"))

	keys, err := kv.List(ctx, "listing:")
	require.NoError(t, err)
	assert.Equal(t, []string{"listing:7"}, keys)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `listing:a\*b\?\[c\]`, escapeGlob("listing:a*b?[c]"))
}

func TestPostgresKVGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	kv := NewPostgresKVFromDB(db)
	defer kv.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv_store WHERE key = $1")).
		WithArgs("listing:1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("payload")))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv_store WHERE key = $1")).
		WithArgs("listing:2").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	got, err := kv.Get(context.Background(), "listing:1")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	_, err = kv.Get(context.Background(), "listing:2")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitPostgresKVClosesOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(errors.New("refused"))
	mock.ExpectPing().WillReturnError(errors.New("refused"))
	mock.ExpectClose()

	_, err = initPostgresKV(db, 2, time.Millisecond)
	assert.ErrorContains(t, err, "ping failed")
	assert.NoError(t, mock.ExpectationsWereMet())

	db, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_store").WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	_, err = initPostgresKV(db, 1, time.Millisecond)
	assert.ErrorContains(t, err, "migrate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKVPutNew(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	kv := NewPostgresKVFromDB(db)
	defer kv.Close()

	mock.ExpectExec("ON CONFLICT \\(key\\) DO NOTHING").
		WithArgs("k", []byte("v")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("ON CONFLICT \\(key\\) DO NOTHING").
		WithArgs("k", []byte("v")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, kv.PutNew(context.Background(), "k", []byte("v")))
	assert.ErrorIs(t, kv.PutNew(context.Background(), "k", []byte("v")), models.ErrKeyExists)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKVPutUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	kv := NewPostgresKVFromDB(db)
	defer kv.Close()

	mock.ExpectExec("ON CONFLICT \\(key\\) DO UPDATE").
		WithArgs("listing:1", []byte("v")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, kv.Put(context.Background(), "listing:1", []byte("v")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKVListEscapesPrefix(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	kv := NewPostgresKVFromDB(db)
	defer kv.Close()

	mock.ExpectQuery("SELECT key FROM kv_store WHERE key LIKE").
		WithArgs(`listing:a\_b:%`).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).
			AddRow("listing:a_b:history:1").
			AddRow("listing:a_b:images"))

	keys, err := kv.List(context.Background(), "listing:a_b:")
	require.NoError(t, err)
	assert.Equal(t, []string{"listing:a_b:history:1", "listing:a_b:images"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
