/*
 * internal/store/postgres.go
 *
 * Postgres-backed Store Adapter. One table per kind, JSONB columns for the
 * unstructured parts of a record, a unique index on uid, a compound index
 * on (namespace, created_at desc) for paginated listing, and a plain index
 * on name.
 */

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"

	"github.com/kubemirror/syncengine/internal/backoffpolicy"
	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/model"
)

// PostgresStore is the document-store driver. Kind names become table
// names; tableName rejects any kind that does not yield a safe SQL
// identifier.
type PostgresStore struct {
	db      *sqlx.DB
	cfg     config.Config
	chunked ChunkedWriter

	tablesMu sync.Mutex
	tables   map[string]bool
}

// OpenPostgresStore connects to dsn and returns a ready PostgresStore. The
// connection pool is sized from cfg; callers are responsible for closing the
// returned store.
func OpenPostgresStore(ctx context.Context, dsn string, cfg config.Config) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.StorePoolMaxConns)
	db.SetMaxIdleConns(cfg.StorePoolMaxConns)
	db.SetConnMaxLifetime(cfg.StoreConnMaxLifetime)

	p := &PostgresStore{db: db, cfg: cfg, tables: make(map[string]bool)}
	p.chunked = ChunkedWriter{
		Write:  p.writeChunk,
		Cfg:    cfg,
		Policy: backoffpolicy.FromConfig(cfg),
	}
	return p, nil
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func tableName(kind string) (string, error) {
	name := "res_" + strings.ReplaceAll(strings.ToLower(kind), "-", "_")
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("store: %q is not a safe table identifier", kind)
	}
	return name, nil
}

// ensureTable lazily creates the per-kind table and its indexes the first
// time a kind is written or read in this process.
func (p *PostgresStore) ensureTable(ctx context.Context, kind string) (string, error) {
	table, err := tableName(kind)
	if err != nil {
		return "", err
	}

	p.tablesMu.Lock()
	defer p.tablesMu.Unlock()
	if p.tables[table] {
		return table, nil
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	uid              TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	namespace        TEXT NOT NULL DEFAULT '',
	kind             TEXT NOT NULL,
	api_version      TEXT NOT NULL DEFAULT '',
	resource_version TEXT NOT NULL DEFAULT '',
	labels           JSONB,
	annotations      JSONB,
	extra            JSONB,
	raw              JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_uid_uidx ON %[1]s (uid);
CREATE INDEX IF NOT EXISTS %[1]s_ns_created_idx ON %[1]s (namespace, created_at DESC);
CREATE INDEX IF NOT EXISTS %[1]s_name_idx ON %[1]s (name);
`, table)

	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return "", fmt.Errorf("store: ensure table %q: %w", table, err)
	}
	p.tables[table] = true
	return table, nil
}

type row struct {
	UID             string         `db:"uid"`
	Name            string         `db:"name"`
	Namespace       string         `db:"namespace"`
	Kind            string         `db:"kind"`
	APIVersion      string         `db:"api_version"`
	ResourceVersion string         `db:"resource_version"`
	Labels          []byte         `db:"labels"`
	Annotations     []byte         `db:"annotations"`
	Extra           []byte         `db:"extra"`
	Raw             []byte         `db:"raw"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func toRow(rec model.StoredResource) (row, error) {
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return row{}, err
	}
	annotations, err := json.Marshal(rec.Annotations)
	if err != nil {
		return row{}, err
	}
	extra, err := json.Marshal(rec.Extra)
	if err != nil {
		return row{}, err
	}
	var raw []byte
	if rec.Raw != nil {
		raw, err = json.Marshal(rec.Raw.Object)
		if err != nil {
			return row{}, err
		}
	} else {
		raw = []byte("null")
	}
	return row{
		UID: rec.UID, Name: rec.Name, Namespace: rec.Namespace, Kind: rec.Kind,
		APIVersion: rec.APIVersion, ResourceVersion: rec.ResourceVersion,
		Labels: labels, Annotations: annotations, Extra: extra, Raw: raw,
	}, nil
}

func fromRow(r row) (model.StoredResource, error) {
	rec := model.StoredResource{
		UID: r.UID, Name: r.Name, Namespace: r.Namespace, Kind: r.Kind,
		APIVersion: r.APIVersion, ResourceVersion: r.ResourceVersion,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if len(r.Labels) > 0 {
		if err := json.Unmarshal(r.Labels, &rec.Labels); err != nil {
			return rec, err
		}
	}
	if len(r.Annotations) > 0 {
		if err := json.Unmarshal(r.Annotations, &rec.Annotations); err != nil {
			return rec, err
		}
	}
	if len(r.Extra) > 0 {
		if err := json.Unmarshal(r.Extra, &rec.Extra); err != nil {
			return rec, err
		}
	}
	if len(r.Raw) > 0 && string(r.Raw) != "null" {
		var obj map[string]interface{}
		if err := json.Unmarshal(r.Raw, &obj); err != nil {
			return rec, err
		}
		rec.Raw = &unstructured.Unstructured{Object: obj}
	}
	return rec, nil
}

func (p *PostgresStore) FindByIdentity(ctx context.Context, kind string, idKey model.IdentityField, idValue string) (*model.StoredResource, error) {
	table, err := p.ensureTable(ctx, kind)
	if err != nil {
		return nil, err
	}
	column := identityColumn(idKey)

	var r row
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", table, column)
	err = p.db.GetContext(ctx, &r, query, idValue)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find by %s in %q: %w", idKey, kind, err)
	}
	rec, err := fromRow(r)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func identityColumn(idKey model.IdentityField) string {
	if idKey == model.IdentityName {
		return "name"
	}
	return "uid"
}

func (p *PostgresStore) List(ctx context.Context, kind string, opts ListOptions) ([]model.StoredResource, error) {
	table, err := p.ensureTable(ctx, kind)
	if err != nil {
		return nil, err
	}

	var conds []string
	var args []interface{}
	argN := 1
	if opts.Filter.Namespace != "" {
		conds = append(conds, fmt.Sprintf("namespace = $%d", argN))
		args = append(args, opts.Filter.Namespace)
		argN++
	}
	if opts.Filter.NameRegex != "" {
		conds = append(conds, fmt.Sprintf("name ~ $%d", argN))
		args = append(args, opts.Filter.NameRegex)
		argN++
	}

	query := "SELECT * FROM " + table
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY namespace ASC, created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = p.cfg.DefaultPageSize
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, opts.Offset)

	var rows []row
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: list %q: %w", kind, err)
	}

	result := make([]model.StoredResource, 0, len(rows))
	for _, r := range rows {
		rec, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (p *PostgresStore) Count(ctx context.Context, kind string, filter Filter) (int, error) {
	table, err := p.ensureTable(ctx, kind)
	if err != nil {
		return 0, err
	}

	var conds []string
	var args []interface{}
	argN := 1
	if filter.Namespace != "" {
		conds = append(conds, fmt.Sprintf("namespace = $%d", argN))
		args = append(args, filter.Namespace)
		argN++
	}
	if filter.NameRegex != "" {
		conds = append(conds, fmt.Sprintf("name ~ $%d", argN))
		args = append(args, filter.NameRegex)
	}

	query := "SELECT count(*) FROM " + table
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	var n int
	if err := p.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("store: count %q: %w", kind, err)
	}
	return n, nil
}

const upsertTemplate = `
INSERT INTO %s (uid, name, namespace, kind, api_version, resource_version, labels, annotations, extra, raw, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
ON CONFLICT (uid) DO UPDATE SET
	name = EXCLUDED.name,
	namespace = EXCLUDED.namespace,
	kind = EXCLUDED.kind,
	api_version = EXCLUDED.api_version,
	resource_version = EXCLUDED.resource_version,
	labels = EXCLUDED.labels,
	annotations = EXCLUDED.annotations,
	extra = EXCLUDED.extra,
	raw = EXCLUDED.raw,
	updated_at = now()
`

func (p *PostgresStore) UpsertByIdentity(ctx context.Context, kind string, idKey model.IdentityField, idValue string, record model.StoredResource) error {
	table, err := p.ensureTable(ctx, kind)
	if err != nil {
		return err
	}
	return p.upsertRow(ctx, table, record)
}

func (p *PostgresStore) upsertRow(ctx context.Context, table string, record model.StoredResource) error {
	r, err := toRow(record)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(upsertTemplate, table)
	_, err = p.db.ExecContext(ctx, query,
		r.UID, r.Name, r.Namespace, r.Kind, r.APIVersion, r.ResourceVersion,
		r.Labels, r.Annotations, r.Extra, r.Raw)
	return err
}

func (p *PostgresStore) DeleteByIdentity(ctx context.Context, kind string, idKey model.IdentityField, idValue string) error {
	table, err := p.ensureTable(ctx, kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, identityColumn(idKey))
	_, err = p.db.ExecContext(ctx, query, idValue)
	return err
}

func (p *PostgresStore) BulkUpsert(ctx context.Context, kind string, idKey model.IdentityField, items []model.StoredResource) error {
	return p.chunked.BulkUpsert(ctx, kind, idKey, items)
}

// writeChunk writes one chunk inside a single transaction, so a mid-chunk
// failure never leaves a partially-applied batch.
func (p *PostgresStore) writeChunk(ctx context.Context, kind string, idKey model.IdentityField, chunk []model.StoredResource) error {
	table, err := p.ensureTable(ctx, kind)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(upsertTemplate, table)
	for _, rec := range chunk {
		r, err := toRow(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query,
			r.UID, r.Name, r.Namespace, r.Kind, r.APIVersion, r.ResourceVersion,
			r.Labels, r.Annotations, r.Extra, r.Raw); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	klog.V(4).Infof("store: wrote chunk of %d into %s", len(chunk), table)
	return nil
}

func (p *PostgresStore) DeleteWhereInvalid(ctx context.Context, kind string) error {
	table, err := p.ensureTable(ctx, kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE uid = '' OR name = ''", table)
	_, err = p.db.ExecContext(ctx, query)
	return err
}
