package service

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/forensicbot/core/internal/model"
)

// bqAuditRow is the flattened row shape streamed into the WORM archive
// table; bigquery.Inserter infers the schema from its struct tags the same
// way the client's streaming-insert examples do.
type bqAuditRow struct {
	ID           string `bigquery:"id"`
	UserID       string `bigquery:"user_id"`
	Action       string `bigquery:"action"`
	ResourceID   string `bigquery:"resource_id"`
	ResourceType string `bigquery:"resource_type"`
	Severity     string `bigquery:"severity"`
	Details      string `bigquery:"details"`
	DetailsHash  string `bigquery:"details_hash"`
	CreatedAt    string `bigquery:"created_at"`
}

// BigQueryAuditWriter streams audit entries into a dataset table as a
// write-once archive: once inserted, a BigQuery table has no update-in
// -place path available to this writer, giving the write-once-read-many
// guarantee this archive needs on top of the Postgres hash chain.
type BigQueryAuditWriter struct {
	inserter *bigquery.Inserter
}

// NewBigQueryAuditWriter creates a writer targeting dataset.table.
func NewBigQueryAuditWriter(client *bigquery.Client, dataset, table string) *BigQueryAuditWriter {
	return &BigQueryAuditWriter{inserter: client.Dataset(dataset).Table(table).Inserter()}
}

// WriteAuditEntry implements BigQueryWriter.
func (w *BigQueryAuditWriter) WriteAuditEntry(ctx context.Context, entry *model.AuditLog) error {
	row := bqAuditRow{
		ID:        entry.ID,
		Action:    entry.Action,
		Severity:  entry.Severity,
		CreatedAt: entry.CreatedAt.Format("2006-01-02 15:04:05.999999"),
	}
	if entry.UserID != nil {
		row.UserID = *entry.UserID
	}
	if entry.ResourceID != nil {
		row.ResourceID = *entry.ResourceID
	}
	if entry.ResourceType != nil {
		row.ResourceType = *entry.ResourceType
	}
	if entry.Details != nil {
		row.Details = string(entry.Details)
	}
	if entry.DetailsHash != nil {
		row.DetailsHash = *entry.DetailsHash
	}

	if err := w.inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("service.BigQueryAuditWriter.WriteAuditEntry: %w", err)
	}
	return nil
}
