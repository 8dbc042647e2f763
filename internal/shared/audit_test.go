package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	r.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}

func TestAuditLoggerRecord(t *testing.T) {
	db := &recordingExecer{}
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	err := NewAuditLogger(db).Record(context.Background(), AuditLog{
		ActorID: 4, Action: "auth.login", Entity: "principal", EntityID: "4",
		Meta: map[string]any{"outcome": "success"}, At: at,
	})
	require.NoError(t, err)
	assert.Contains(t, db.sql, "INSERT INTO audit_logs")
	require.Len(t, db.args, 6)
	assert.Equal(t, int64(4), db.args[0])
	assert.JSONEq(t, `{"outcome":"success"}`, string(db.args[4].([]byte)))
	assert.Equal(t, at, db.args[5])
}

func TestAuditLoggerAnonymousActorAndDefaultTime(t *testing.T) {
	db := &recordingExecer{}
	err := NewAuditLogger(db).Record(context.Background(), AuditLog{Action: "auth.login", Entity: "principal", EntityID: "ghost"})
	require.NoError(t, err)
	assert.Nil(t, db.args[0])
	assert.Nil(t, db.args[5])
}

func TestAuditLoggerValidation(t *testing.T) {
	var nilLogger *AuditLogger
	assert.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
	assert.Error(t, NewAuditLogger(&recordingExecer{}).Record(context.Background(), AuditLog{Action: "x"}))

	db := &recordingExecer{err: errors.New("insert failed")}
	assert.Error(t, NewAuditLogger(db).Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
}
