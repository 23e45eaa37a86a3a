package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Runner applies goose migrations from fsys against a postgres database.
// sqlite development databases are built from the GORM models instead; see
// MaybeRunDev.
type Runner struct {
	db   *sql.DB
	fsys fs.FS
}

func NewRunner(db *sql.DB, fsys fs.FS) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if fsys == nil {
		fsys = Files()
	}
	if err := Validate(fsys); err != nil {
		return nil, err
	}
	return &Runner{db: db, fsys: fsys}, nil
}

func (r *Runner) Up(ctx context.Context) error {
	return r.with(func() error { return goose.UpContext(ctx, r.db, ".") })
}

// Down rolls back the most recent migration only.
func (r *Runner) Down(ctx context.Context) error {
	return r.with(func() error { return goose.DownContext(ctx, r.db, ".") })
}

// Status prints applied and pending migrations to stdout.
func (r *Runner) Status(ctx context.Context) error {
	return r.with(func() error { return goose.StatusContext(ctx, r.db, ".") })
}

func (r *Runner) Version(ctx context.Context) (int64, error) {
	var v int64
	err := r.with(func() error {
		var err error
		v, err = goose.GetDBVersionContext(ctx, r.db)
		return err
	})
	return v, err
}

// To moves the schema up or down until target is the newest applied version.
func (r *Runner) To(ctx context.Context, target int64) error {
	current, err := r.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case target == current:
		return nil
	case target > current:
		return r.with(func() error { return goose.UpToContext(ctx, r.db, ".", target) })
	default:
		return r.with(func() error { return goose.DownToContext(ctx, r.db, ".", target) })
	}
}

func (r *Runner) with(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(r.fsys)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("goose: %w", err)
	}
	return nil
}
