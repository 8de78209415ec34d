// Package catalog indexes recorded sessions in SQLite.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"paravario/internal/session"
)

//go:embed schema.sql
var schemaSQL string

type File struct {
	Kind  session.Kind `json:"kind"`
	Name  string       `json:"name"`
	Lines uint64       `json:"lines"`
}

type Entry struct {
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	Dir       string    `json:"dir"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	Files     []File    `json:"files"`
}

// Catalog records one row per session. It implements session.Observer.
type Catalog struct {
	db  *sql.DB
	dir string

	mu  sync.Mutex
	ids map[string]string // session name -> uuid
}

// Open creates or opens the catalog at path. dir is the log directory
// stored alongside each entry.
func Open(path, dir string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: schema: %w", err)
	}
	return &Catalog{db: db, dir: dir, ids: map[string]string{}}, nil
}

func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Begin inserts a running session and returns its uuid.
func (c *Catalog) Begin(ctx context.Context, info session.Info) (string, error) {
	id := uuid.NewString()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("catalog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (uuid, name, dir, started_at_ms) VALUES (?, ?, ?, ?)`,
		id, info.ID, c.dir, info.StartedAt.UnixMilli()); err != nil {
		return "", fmt.Errorf("catalog: insert session %s: %w", info.ID, err)
	}
	for _, k := range session.Kinds {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_files (session_uuid, kind, file_name) VALUES (?, ?, ?)`,
			id, string(k), info.Files[k]); err != nil {
			return "", fmt.Errorf("catalog: insert file %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("catalog: commit: %w", err)
	}

	c.mu.Lock()
	c.ids[info.ID] = id
	c.mu.Unlock()
	return id, nil
}

// Finish stores stop time, line counts and failure of a session started
// with Begin.
func (c *Catalog) Finish(ctx context.Context, sum session.Summary) error {
	c.mu.Lock()
	id, ok := c.ids[sum.ID]
	delete(c.ids, sum.ID)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("catalog: unknown session %s", sum.ID)
	}

	var failure sql.NullString
	if sum.Err != nil {
		failure = sql.NullString{String: sum.Err.Error(), Valid: true}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET stopped_at_ms = ?, failure = ? WHERE uuid = ?`,
		sum.StoppedAt.UnixMilli(), failure, id); err != nil {
		return fmt.Errorf("catalog: update session %s: %w", sum.ID, err)
	}
	for k, n := range sum.Lines {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_files SET lines = ? WHERE session_uuid = ? AND kind = ?`,
			int64(n), id, string(k)); err != nil {
			return fmt.Errorf("catalog: update file %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (c *Catalog) SessionStarted(info session.Info) {
	if _, err := c.Begin(context.Background(), info); err != nil {
		log.Printf("catalog: %v", err)
	}
}

func (c *Catalog) SessionStopped(sum session.Summary) {
	if err := c.Finish(context.Background(), sum); err != nil {
		log.Printf("catalog: %v", err)
	}
}

// List returns the most recent sessions first. limit <= 0 means all.
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	if c == nil {
		return nil, errors.New("catalog: nil")
	}
	q := `SELECT uuid, name, dir, started_at_ms, stopped_at_ms, failure FROM sessions ORDER BY started_at_ms DESC, name DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	byUUID := map[string]int{}
	for rows.Next() {
		var e Entry
		var started int64
		var stopped sql.NullInt64
		var failure sql.NullString
		if err := rows.Scan(&e.UUID, &e.Name, &e.Dir, &started, &stopped, &failure); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		e.StartedAt = time.UnixMilli(started).UTC()
		if stopped.Valid {
			e.StoppedAt = time.UnixMilli(stopped.Int64).UTC()
		}
		e.Failure = failure.String
		byUUID[e.UUID] = len(out)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	frows, err := c.db.QueryContext(ctx, `SELECT session_uuid, kind, file_name, lines FROM session_files`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list files: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var sid, kind, name string
		var lines int64
		if err := frows.Scan(&sid, &kind, &name, &lines); err != nil {
			return nil, fmt.Errorf("catalog: scan file: %w", err)
		}
		i, ok := byUUID[sid]
		if !ok {
			continue
		}
		out[i].Files = append(out[i].Files, File{Kind: session.Kind(kind), Name: name, Lines: uint64(lines)})
	}
	if err := frows.Err(); err != nil {
		return nil, err
	}
	order := map[session.Kind]int{}
	for i, k := range session.Kinds {
		order[k] = i
	}
	for i := range out {
		files := out[i].Files
		sort.Slice(files, func(a, b int) bool { return order[files[a].Kind] < order[files[b].Kind] })
	}
	return out, nil
}
