// Package pgstore implements store.Store on PostgreSQL through pgx.
//
// Each table keeps its rows as a JSONB document next to the id and an
// insertion sequence. Conditional updates are a single UPDATE ... WHERE
// statement, which makes them atomic across processes.
//
// Import Path: fleetd.io/fleetd/internal/store/pgstore
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fleetd.io/fleetd/internal/store"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db  DB
	now func() time.Time
}

// New wraps an open pool. Call Migrate before first use.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates every table if missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, name := range store.Tables {
		ident := pgx.Identifier{name}.Sanitize()
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq  BIGSERIAL,
	id   TEXT PRIMARY KEY,
	data JSONB NOT NULL
)`, ident)
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}

func tableIdent(name string) (string, error) {
	if !store.ValidTable(name) {
		return "", fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, name string, row store.Row) (string, error) {
	ident, err := tableIdent(name)
	if err != nil {
		return "", err
	}
	norm, err := store.NormalizeRow(row)
	if err != nil {
		return "", err
	}

	id := norm.ID()
	if id == "" {
		id = store.NewID()
	}
	ts := store.FormatTime(s.now())
	norm[store.ColID] = id
	norm[store.ColCreatedAt] = ts
	norm[store.ColUpdatedAt] = ts
	if _, ok := norm[store.ColDeletedAt]; !ok {
		norm[store.ColDeletedAt] = nil
	}

	data, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, data) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO NOTHING`, ident),
		id, string(data))
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("%w: %s/%s", store.ErrDuplicate, name, id)
	}
	return id, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, name, id string) (store.Row, error) {
	ident, err := tableIdent(name)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = s.db.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, ident), id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	return store.DecodeRow(raw)
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, name, id string, fields store.Row, cond store.Condition) (bool, error) {
	ident, err := tableIdent(name)
	if err != nil {
		return false, err
	}
	norm, err := store.NormalizeRow(fields)
	if err != nil {
		return false, err
	}
	delete(norm, store.ColID)
	delete(norm, store.ColCreatedAt)
	norm[store.ColUpdatedAt] = store.FormatTime(s.now())

	data, err := json.Marshal(norm)
	if err != nil {
		return false, fmt.Errorf("encode fields: %w", err)
	}

	where, args, err := conditionSQL(cond, []any{string(data), id})
	if err != nil {
		return false, err
	}
	stmt := fmt.Sprintf(`UPDATE %s SET data = data || $1::jsonb WHERE id = $2%s`, ident, where)

	tag, err := s.db.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", name, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, ident), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", name, err)
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

// conditionSQL renders cond as AND clauses, appending its parameters to args.
func conditionSQL(cond store.Condition, args []any) (string, []any, error) {
	var b strings.Builder
	for _, key := range sortedKeys(cond) {
		want := cond[key]
		args = append(args, key)
		keyParam := len(args)
		if want == nil {
			fmt.Fprintf(&b, ` AND (data->($%d::text) IS NULL OR data->($%d::text) = 'null'::jsonb)`, keyParam, keyParam)
			continue
		}
		encoded, err := encodeValue(want)
		if err != nil {
			return "", nil, err
		}
		args = append(args, encoded)
		fmt.Fprintf(&b, ` AND data->($%d::text) = $%d::jsonb`, keyParam, len(args))
	}
	return b.String(), args, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, name string, q store.Query) ([]store.Row, error) {
	ident, err := tableIdent(name)
	if err != nil {
		return nil, err
	}

	var (
		b    strings.Builder
		args []any
	)
	fmt.Fprintf(&b, `SELECT data FROM %s WHERE TRUE`, ident)
	for _, key := range sortedKeys(q.Filters) {
		encoded, err := encodeValue(q.Filters[key])
		if err != nil {
			return nil, err
		}
		args = append(args, key, encoded)
		fmt.Fprintf(&b, ` AND data->($%d::text) = $%d::jsonb`, len(args)-1, len(args))
	}
	if q.IDPrefix != "" {
		args = append(args, escapeLike(q.IDPrefix)+"%")
		fmt.Fprintf(&b, ` AND id LIKE $%d`, len(args))
	}
	if !q.ShowDeleted {
		b.WriteString(` AND (data->'deleted_at' IS NULL OR data->'deleted_at' = 'null'::jsonb)`)
	}
	b.WriteString(` ORDER BY seq`)

	rows, err := s.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	defer rows.Close()

	var out []store.Row
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		row, err := store.DecodeRow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", name, err)
	}
	return out, nil
}

// SoftDelete implements store.Store.
func (s *Store) SoftDelete(ctx context.Context, name, id string) error {
	ts := store.FormatTime(s.now())
	_, err := s.Update(ctx, name, id, store.Row{store.ColDeletedAt: ts}, nil)
	return err
}

func encodeValue(v any) (string, error) {
	norm, err := store.Normalize(v)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(data), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ store.Store = (*Store)(nil)
