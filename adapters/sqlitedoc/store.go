// Package sqlitedoc implements the storage driver on SQLite. Each
// collection is one table holding documents as JSON, queried through
// json_extract expressions; a regexp function registered on every
// connection backs the $regex operator.
package sqlitedoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/artpar/docbase/core/attr"
	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/docop"
	"github.com/artpar/docbase/pkg/oid"
	"github.com/artpar/docbase/ports"
)

const driverName = "sqlite3_docbase"

var registerOnce sync.Once

func registerDriver() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", func(pattern, s string) (bool, error) {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return false, err
				}
				return re.MatchString(s), nil
			}, true)
		},
	})
}

// Store implements ports.Driver and ports.CounterStore on one SQLite
// database file.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]bool
}

// Open opens (or creates) the database at path. ":memory:" works for
// tests.
func Open(path string) (*Store, error) {
	registerOnce.Do(registerDriver)
	db, err := sql.Open(driverName, path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create counters table: %w", err)
	}
	return &Store{db: db, tables: map[string]bool{}}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Acquire hands out a dedicated database connection for one call.
func (s *Store) Acquire(ctx context.Context) (ports.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

func (s *Store) Release(conn ports.Conn) {
	if c, ok := conn.(*sql.Conn); ok {
		c.Close()
	}
}

// Next implements ports.CounterStore with an atomic upsert.
func (s *Store) Next(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", name, err)
	}
	return value, nil
}

func (s *Store) conn(conn ports.Conn) (*sql.Conn, error) {
	c, ok := conn.(*sql.Conn)
	if !ok {
		return nil, fmt.Errorf("sqlitedoc: invalid connection type %T", conn)
	}
	return c, nil
}

func (s *Store) ensureTable(ctx context.Context, c *sql.Conn, collection string) error {
	s.mu.Lock()
	known := s.tables[collection]
	s.mu.Unlock()
	if known {
		return nil
	}
	_, err := c.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id TEXT PRIMARY KEY,
			deleted INTEGER NOT NULL DEFAULT 0,
			doc TEXT NOT NULL
		)
	`, collection))
	if err != nil {
		return fmt.Errorf("create table %s: %w", collection, err)
	}
	s.mu.Lock()
	s.tables[collection] = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Read(ctx context.Context, conn ports.Conn, args ports.ReadArgs) (*ports.ReadResults, error) {
	c, err := s.conn(conn)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, c, args.Collection); err != nil {
		return nil, err
	}

	where, binds, err := compileWhere(args.Query)
	if err != nil {
		return nil, err
	}

	var total int64
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE %s`, args.Collection, where)
	if err := c.QueryRowContext(ctx, countSQL, binds...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count %s: %w", args.Collection, err)
	}

	if groupAttr, ok := groupRequested(args.Query); ok {
		groupExpr, err := fieldExpr(groupAttr)
		if err != nil {
			return nil, err
		}
		sqlText := fmt.Sprintf(`SELECT COALESCE(%s, ''), COUNT(*) FROM %q WHERE %s GROUP BY 1`,
			groupExpr, args.Collection, where)
		rows, err := c.QueryContext(ctx, sqlText, binds...)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", args.Collection, err)
		}
		defer rows.Close()
		groups := map[string]int64{}
		for rows.Next() {
			var key string
			var n int64
			if err := rows.Scan(&key, &n); err != nil {
				return nil, err
			}
			groups[key] = n
		}
		return &ports.ReadResults{Total: total, Groups: groups}, rows.Err()
	}

	order, err := orderClause(args.Query)
	if err != nil {
		return nil, err
	}
	sqlText := fmt.Sprintf(`SELECT doc FROM %q WHERE %s%s%s`,
		args.Collection, where, order, pageClause(args.Query))
	rows, err := c.QueryContext(ctx, sqlText, binds...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args.Collection, err)
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(raw, args.Attrs)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &ports.ReadResults{Total: total, Count: int64(len(docs)), Docs: docs}, nil
}

func (s *Store) Create(ctx context.Context, conn ports.Conn, args ports.CreateArgs) (*ports.WriteResults, error) {
	c, err := s.conn(conn)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, c, args.Collection); err != nil {
		return nil, err
	}
	id, ok := args.Doc["_id"].(oid.ID)
	if !ok {
		return nil, fmt.Errorf("sqlitedoc: create requires an _id")
	}
	raw, err := encodeDoc(args.Doc)
	if err != nil {
		return nil, err
	}
	if _, err := c.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %q (id, doc) VALUES (?, ?)`, args.Collection),
		id.Hex(), raw); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", args.Collection, err)
	}
	return &ports.WriteResults{Count: 1, Docs: []map[string]any{{"_id": id}}}, nil
}

func (s *Store) Update(ctx context.Context, conn ports.Conn, args ports.UpdateArgs) (*ports.WriteResults, error) {
	c, err := s.conn(conn)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, c, args.Collection); err != nil {
		return nil, err
	}

	// Documents round-trip through Go so update operators apply with the
	// same semantics everywhere.
	var results ports.WriteResults
	for _, id := range args.TargetIDs {
		var raw string
		err := c.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT doc FROM %q WHERE id = ?`, args.Collection),
			id.Hex()).Scan(&raw)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", args.Collection, id.Hex(), err)
		}
		doc, err := decodeDoc(raw, args.Attrs)
		if err != nil {
			return nil, err
		}
		for name, value := range args.Doc {
			if name == "_id" {
				continue
			}
			next, err := docop.Apply(doc[name], value)
			if err != nil {
				return nil, fmt.Errorf("attr %q: %w", name, err)
			}
			doc[name] = next
		}
		encoded, err := encodeDoc(doc)
		if err != nil {
			return nil, err
		}
		if _, err := c.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %q SET doc = ? WHERE id = ?`, args.Collection),
			encoded, id.Hex()); err != nil {
			return nil, fmt.Errorf("update %s/%s: %w", args.Collection, id.Hex(), err)
		}
		results.Count++
		results.Docs = append(results.Docs, map[string]any{"_id": id})
	}
	return &results, nil
}

func (s *Store) Delete(ctx context.Context, conn ports.Conn, args ports.DeleteArgs) (*ports.WriteResults, error) {
	c, err := s.conn(conn)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, c, args.Collection); err != nil {
		return nil, err
	}

	var results ports.WriteResults
	for _, id := range args.TargetIDs {
		var res sql.Result
		if args.Strategy.Hard() {
			res, err = c.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, args.Collection), id.Hex())
		} else {
			res, err = c.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %q SET deleted = 1 WHERE id = ?`, args.Collection), id.Hex())
		}
		if err != nil {
			return nil, fmt.Errorf("delete %s/%s: %w", args.Collection, id.Hex(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		results.Count++
		results.Docs = append(results.Docs, map[string]any{"_id": id})
	}
	return &results, nil
}

func (s *Store) Drop(ctx context.Context, conn ports.Conn, collection string) (bool, error) {
	c, err := s.conn(conn)
	if err != nil {
		return false, err
	}
	var name string
	err = c.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
		collection).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := c.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %q`, collection)); err != nil {
		return false, fmt.Errorf("drop table %s: %w", collection, err)
	}
	s.mu.Lock()
	delete(s.tables, collection)
	s.mu.Unlock()
	return true, nil
}

// encodeDoc marshals a document, dropping the _id field: the id lives in
// its own column. oid values serialize as hex through their own
// marshaller.
func encodeDoc(doc map[string]any) (string, error) {
	stripped := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		stripped[k] = v
	}
	stripped["_id"] = idOf(doc)
	raw, err := json.Marshal(stripped)
	if err != nil {
		return "", fmt.Errorf("encode doc: %w", err)
	}
	return string(raw), nil
}

func idOf(doc map[string]any) string {
	if id, ok := doc["_id"].(oid.ID); ok {
		return id.Hex()
	}
	s, _ := doc["_id"].(string)
	return s
}

// decodeDoc unmarshals a stored document and coerces id-typed fields
// back to the native id type using the attribute schema.
func decodeDoc(raw string, attrs map[string]*attr.Type) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode doc: %w", err)
	}
	if s, ok := doc["_id"].(string); ok {
		if id, err := oid.Parse(s); err == nil {
			doc["_id"] = id
		}
	}
	for name, t := range attrs {
		v, present := doc[name]
		if !present || v == nil {
			continue
		}
		doc[name] = coerceIDs(t, v)
	}
	// Bytes of file content decode as base64 strings; leave them to the
	// schema layer, which re-validates on write paths only.
	return doc, nil
}

// coerceIDs converts hex strings back to ids for ID-kinded attributes,
// including ids nested in lists.
func coerceIDs(t *attr.Type, v any) any {
	switch t.Kind {
	case attr.KindID:
		if s, ok := v.(string); ok {
			if id, err := oid.Parse(s); err == nil {
				return id
			}
		}
	case attr.KindList:
		list, ok := v.([]any)
		if !ok {
			return v
		}
		var idMember *attr.Type
		for _, member := range t.Members() {
			if member.Kind == attr.KindID {
				idMember = member
				break
			}
		}
		if idMember == nil {
			return v
		}
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = coerceIDs(idMember, item)
		}
		return out
	}
	// JSON numbers arrive as float64; integral INT values come back as
	// int64 so operator arithmetic stays integral.
	if t.Kind == attr.KindInt {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int64(f)
		}
	}
	return v
}

func groupRequested(q *query.Query) (string, bool) {
	if q == nil {
		return "", false
	}
	v, ok := q.Special(query.SpecialGroup)
	if !ok {
		return "", false
	}
	name, ok := v.(string)
	return name, ok && name != ""
}
