package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/angelmondragon/settlement-ledger/pkg/config"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// TableSpec describes a table the client keeps in shape. Columns missing
// from an existing table are appended; nothing is ever dropped.
type TableSpec struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
}

// Client wraps a dataset handle for the projection tables.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	tables  []string
	logg    *logger.Logger
}

// NewClient dials BigQuery, checks the dataset and ensures each listed table.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger, specs ...TableSpec) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	for _, spec := range specs {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, errTableNameRequired
		}
	}

	bq, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{client: bq, dataset: bq.Dataset(datasetID), logg: logg}

	if err := c.checkDataset(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	for _, spec := range specs {
		if err := c.EnsureTable(ctx, spec); err != nil {
			_ = bq.Close()
			return nil, err
		}
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset": datasetID,
			"tables":  c.tables,
		}), "bigquery client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

func (c *Client) checkDataset(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	return nil
}

// EnsureTable creates the table when absent and appends any columns the
// live schema lacks.
func (c *Client) EnsureTable(ctx context.Context, spec TableSpec) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errTableNameRequired
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	table := c.dataset.Table(name)
	meta, err := table.Metadata(ctx)
	switch {
	case isNotFound(err):
		if err := table.Create(ctx, createMetadata(spec)); err != nil {
			return fmt.Errorf("creating table %q: %w", name, err)
		}
		c.note(ctx, name, "bigquery table created", len(spec.Schema))
	case err != nil:
		return fmt.Errorf("checking table %q: %w", name, err)
	default:
		missing := missingFields(meta.Schema, spec.Schema)
		if len(missing) > 0 {
			update := bigquery.TableMetadataToUpdate{Schema: append(meta.Schema, missing...)}
			if _, err := table.Update(ctx, update, meta.ETag); err != nil {
				return fmt.Errorf("extending table %q: %w", name, err)
			}
			c.note(ctx, name, "bigquery table schema extended", len(missing))
		}
	}
	c.tables = append(c.tables, name)
	return nil
}

func createMetadata(spec TableSpec) *bigquery.TableMetadata {
	meta := &bigquery.TableMetadata{Schema: spec.Schema}
	if spec.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: spec.PartitionField,
		}
	}
	return meta
}

// missingFields returns the top-level fields of want absent from have. New
// columns are forced NULLABLE since BigQuery rejects adding REQUIRED ones.
func missingFields(have, want bigquery.Schema) bigquery.Schema {
	existing := make(map[string]struct{}, len(have))
	for _, f := range have {
		existing[strings.ToLower(f.Name)] = struct{}{}
	}
	var out bigquery.Schema
	for _, f := range want {
		if _, ok := existing[strings.ToLower(f.Name)]; ok {
			continue
		}
		added := *f
		added.Required = false
		out = append(out, &added)
	}
	return out
}

func (c *Client) note(ctx context.Context, table, msg string, columns int) {
	if c.logg == nil {
		return
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{"table": table, "columns": columns}), msg)
}

// Ping re-reads dataset and table metadata.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.checkDataset(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	for _, name := range c.tables {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return fmt.Errorf("checking table %q: %w", name, err)
		}
	}
	return nil
}

// InsertRows streams rows into table. Rows implementing bigquery.ValueSaver
// control their own insert IDs.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
