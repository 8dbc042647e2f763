package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Querier is the subset of *pgxpool.Pool used by PGRepository.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// WindowParams are the bind parameters of a timeline query. Invalid optional
// values disable their filter.
type WindowParams struct {
	FromAt     pgtype.Timestamptz
	ToAt       pgtype.Timestamptz
	ActorID    pgtype.Int8
	Action     pgtype.Text
	EntityID   pgtype.Text
	OffsetRows int32
	LimitRows  pgtype.Int4
}

// Row is a raw audit_logs row.
type Row struct {
	ID       int64
	At       pgtype.Timestamptz
	ActorID  pgtype.Int8
	Action   string
	Entity   string
	EntityID string
	Meta     []byte
}

const timelineQuery = `
SELECT id, occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR action = $4)
  AND ($5::text IS NULL OR entity_id = $5)
ORDER BY occurred_at DESC, id DESC
OFFSET $6
LIMIT $7`

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	db Querier
}

// NewRepository constructs a PostgreSQL audit repository.
func NewRepository(db Querier) *PGRepository {
	return &PGRepository{db: db}
}

// TimelineWindow returns rows newest first. A NULL LimitRows returns every
// matching row.
func (r *PGRepository) TimelineWindow(ctx context.Context, arg WindowParams) ([]Row, error) {
	rows, err := r.db.Query(ctx, timelineQuery,
		arg.FromAt, arg.ToAt, arg.ActorID, arg.Action, arg.EntityID, arg.OffsetRows, arg.LimitRows)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", err)
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &row.Meta); err != nil {
			return nil, fmt.Errorf("audit: scan timeline: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func decodeMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	return meta
}
