package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

func pageSize(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return defaultPageSize
	}
	return limit
}

// query builds a tenant-scoped statement; each ? in a condition becomes
// the next positional parameter.
type query struct {
	b    strings.Builder
	args []any
}

func tenantQuery(head, tenantID string) *query {
	q := &query{args: []any{tenantID}}
	q.b.WriteString(head)
	q.b.WriteString(" WHERE tenant_id=$1")
	return q
}

func (q *query) and(cond string, v any) *query {
	q.args = append(q.args, v)
	q.b.WriteString(" AND ")
	q.b.WriteString(strings.Replace(cond, "?", fmt.Sprintf("$%d", len(q.args)), 1))
	return q
}

func (q *query) andIf(ok bool, cond string, v any) *query {
	if ok {
		q.and(cond, v)
	}
	return q
}

// page restricts to ids after cursor, ordered by id.
func (q *query) page(cursor string, limit int) *query {
	q.andIf(cursor != "", "id::text > ?", cursor)
	q.args = append(q.args, limit)
	fmt.Fprintf(&q.b, " ORDER BY id LIMIT $%d", len(q.args))
	return q
}

func (q *query) rows(ctx context.Context, db *sql.DB) (*sql.Rows, error) {
	return db.QueryContext(ctx, q.b.String(), q.args...)
}

// collectPage scans rows into items and returns the id of the last item as
// the next cursor when the page is full.
func collectPage[T any](rows *sql.Rows, limit int, scan func(*sql.Rows) (T, string, error)) ([]T, string, error) {
	defer rows.Close()
	out := []T{}
	var last string
	for rows.Next() {
		item, id, err := scan(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, item)
		last = id
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(out) < limit {
		last = ""
	}
	return out, last, nil
}

// execOne runs a tenant-scoped write that must touch a row.
func execOne(ctx context.Context, db *sql.DB, stmt string, args ...any) error {
	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
