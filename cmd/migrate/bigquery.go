package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

type bigqueryTarget struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

func (t *bigqueryTarget) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", t.projectID, t.datasetID)
}

func (t *bigqueryTarget) ensureSchemaMigrationsTable(ctx context.Context) error {
	return t.runQuery(ctx, t.client.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, t.table())))
}

func (t *bigqueryTarget) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	query := t.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, t.table()))
	it, err := query.Read(ctx)
	if err != nil {
		// If table doesn't exist yet, return empty list
		if strings.Contains(err.Error(), "Not found") {
			return []AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		am := AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
		}
		if row.Checksum.Valid {
			am.Checksum = row.Checksum.StringVal
		}
		if row.AppliedBy.Valid {
			am.AppliedBy = row.AppliedBy.StringVal
		}
		applied = append(applied, am)
	}

	return applied, nil
}

// apply cannot be atomic: BigQuery DDL does not join multi-statement
// transactions, so a crash between the two jobs re-runs the migration.
// BigQuery migrations therefore use IF NOT EXISTS.
func (t *bigqueryTarget) apply(ctx context.Context, migration Migration, appliedBy string) error {
	if err := t.runQuery(ctx, t.client.Query(migration.SQL)); err != nil {
		return fmt.Errorf("executing: %w", err)
	}

	record := t.client.Query(fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, t.table()))
	record.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: migration.Version},
		{Name: "name", Value: migration.Name},
		{Name: "checksum", Value: migration.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := t.runQuery(ctx, record); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return nil
}

func (t *bigqueryTarget) runQuery(ctx context.Context, query *bigquery.Query) error {
	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}

	return nil
}

var _ target = (*bigqueryTarget)(nil)
