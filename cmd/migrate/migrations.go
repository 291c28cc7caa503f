package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// target is a database that migrations are applied to.
type target interface {
	// ensureSchemaMigrationsTable creates the bookkeeping table if needed.
	ensureSchemaMigrationsTable(ctx context.Context) error
	appliedMigrations(ctx context.Context) ([]AppliedMigration, error)
	// apply executes migration and records it in schema_migrations.
	apply(ctx context.Context, migration Migration, appliedBy string) error
}

// Pattern to match migration files: 0001_name.sql
var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// parseFilename extracts the version and name of a migration file.
func parseFilename(filename string) (int, string, bool) {
	matches := filenamePattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// checksum is computed over the file as written, before placeholders are
// substituted, so the same migration has one checksum in every environment.
func checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// resolveDir finds dir relative to the working directory or, when run from
// cmd/migrate, to the repository root.
func resolveDir(dir string) (string, error) {
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}
	parent := filepath.Join("..", "..", dir)
	if _, err := os.Stat(parent); err == nil {
		return parent, nil
	}
	return "", fmt.Errorf("migrations directory not found: %s", dir)
}

// readMigrations reads all migration files from dir, substituting each
// {{KEY}} placeholder from replacements.
func readMigrations(dir string, replacements map[string]string, log zerolog.Logger) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		version, name, ok := parseFilename(file.Name())
		if !ok {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, other, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := string(content)
		for key, value := range replacements {
			sql = strings.ReplaceAll(sql, "{{"+key+"}}", value)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      sql,
			Checksum: checksum(content),
		})
	}

	// Sort by version
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// pending returns the migrations not yet applied. An applied migration
// whose file has since changed is an error.
func pending(migrations []Migration, applied []AppliedMigration) ([]Migration, error) {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	var out []Migration
	for _, m := range migrations {
		am, ok := byVersion[m.Version]
		if !ok {
			out = append(out, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s was modified after it was applied", m.Version, m.Name)
		}
	}
	return out, nil
}

// run applies every pending migration in version order.
func run(ctx context.Context, t target, migrations []Migration, appliedBy string, log zerolog.Logger) (int, error) {
	if err := t.ensureSchemaMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	applied, err := t.appliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting applied migrations: %w", err)
	}
	log.Info().Int("applied", len(applied)).Int("found", len(migrations)).Msg("Loaded migrations")

	todo, err := pending(migrations, applied)
	if err != nil {
		return 0, err
	}

	for _, m := range todo {
		log.Info().Msgf("  [RUN]  %04d_%s", m.Version, m.Name)
		if err := t.apply(ctx, m, appliedBy); err != nil {
			return 0, fmt.Errorf("applying migration %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Msgf("  [OK]   %04d_%s", m.Version, m.Name)
	}
	return len(todo), nil
}
