// Package migration applies the schema of the record sink, the task event
// log and the resource flags.
package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/riskibarqy/statharvest/db"
)

// Status is the schema version currently applied.
type Status struct {
	Version uint
	Dirty   bool
	Empty   bool
}

type Migrator struct {
	m      *migrate.Migrate
	source string
}

// Open uses dir when it is set, otherwise the migrations embedded in the
// binary.
func Open(dbURL, dir string) (*Migrator, error) {
	dbURL = strings.TrimSpace(dbURL)
	if dbURL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	var (
		m      *migrate.Migrate
		source string
		err    error
	)
	dir = strings.TrimSpace(dir)
	if dir != "" {
		abs, absErr := resolveDir(dir)
		if absErr != nil {
			return nil, absErr
		}
		source = "file://" + filepath.ToSlash(abs)
		m, err = migrate.New(source, dbURL)
	} else {
		sub, subErr := fs.Sub(db.Migrations, "migrations")
		if subErr != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", subErr)
		}
		driver, drvErr := iofs.New(sub, ".")
		if drvErr != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", drvErr)
		}
		source = "embedded"
		m, err = migrate.NewWithSourceInstance("iofs", driver, dbURL)
	}
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return &Migrator{m: m, source: source}, nil
}

func (g *Migrator) Source() string {
	return g.source
}

// Up applies every pending migration. It reports false when there was
// nothing to apply.
func (g *Migrator) Up() (bool, error) {
	return changed(g.m.Up())
}

func (g *Migrator) Down(steps int) (bool, error) {
	if steps <= 0 {
		return false, fmt.Errorf("down steps must be > 0")
	}
	return changed(g.m.Steps(-steps))
}

func (g *Migrator) Goto(version uint) (bool, error) {
	return changed(g.m.Migrate(version))
}

func (g *Migrator) Force(version int) error {
	if version < 0 {
		return fmt.Errorf("version must be >= 0")
	}
	if err := g.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

func (g *Migrator) Status() (Status, error) {
	version, dirty, err := g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Empty: true}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read version: %w", err)
	}
	return Status{Version: version, Dirty: dirty}, nil
}

func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	return errors.Join(srcErr, dbErr)
}

func changed(err error) (bool, error) {
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func resolveDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve migrations dir %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("migration directory %s not found", abs)
	}
	return abs, nil
}
