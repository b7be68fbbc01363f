// Package sqlstore implements storage.Store on SQLite (default) or Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
	"github.com/yairfalse/sift/pkg/intelligence/storage/sqlstore/migrate"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// Dialect names a supported database
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Store is a database/sql backed storage.Store
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Open connects and prepares the schema. SQLite DSNs are file paths or
// file: URIs; Postgres DSNs must be postgres:// URLs so migrations can run.
func Open(ctx context.Context, logger *zap.Logger, dialect Dialect, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case SQLite:
		db, err = sql.Open("sqlite3", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	case Postgres:
		if err := migrate.Run(dsn, migrate.Up); err != nil {
			return nil, err
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	logger.Info("SQL store opened", zap.String("dialect", string(dialect)))
	return &Store{db: db, dialect: dialect, logger: logger}, nil
}

func sqliteDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return "file::memory:?_pragma=foreign_keys(ON)"
	}
	if strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return "file:" + dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

// rebind rewrites ? placeholders for dialects that number them
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) requireInvestigation(ctx context.Context, q querier, id domain.InvestigationID) error {
	var one int
	err := q.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM investigations WHERE id = ?`), string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return err
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ============================================================================
// Investigations
// ============================================================================

// CreateInvestigation inserts a new investigation
func (s *Store) CreateInvestigation(ctx context.Context, inv *domain.Investigation) error {
	if inv == nil {
		return fmt.Errorf("investigation is nil")
	}
	if err := inv.Validate(); err != nil {
		return err
	}
	status := inv.Status
	if status == "" {
		status = domain.StatusActive
	}
	created := inv.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	lat, lon := coordArgs(inv.Location)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		err := s.requireInvestigation(ctx, tx, inv.ID)
		if err == nil {
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, inv.ID)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO investigations
			(id, name, description, evidence_path, lat, lon, location_name, timezone, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			string(inv.ID), inv.Name, inv.Description, inv.EvidencePath, lat, lon,
			inv.LocationName, inv.Timezone, string(status), created.UnixNano())
		if err != nil {
			return fmt.Errorf("insert investigation: %w", err)
		}
		return nil
	})
}

const investigationColumns = `id, name, description, evidence_path, lat, lon, location_name, timezone, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvestigation(row rowScanner) (domain.Investigation, error) {
	var (
		inv      domain.Investigation
		id       string
		status   string
		lat, lon sql.NullFloat64
		created  int64
	)
	err := row.Scan(&id, &inv.Name, &inv.Description, &inv.EvidencePath, &lat, &lon,
		&inv.LocationName, &inv.Timezone, &status, &created)
	if err != nil {
		return inv, err
	}
	inv.ID = domain.InvestigationID(id)
	inv.Status = domain.InvestigationStatus(status)
	inv.Location = coordFrom(lat, lon)
	inv.CreatedAt = time.Unix(0, created).UTC()
	return inv, nil
}

// GetInvestigation loads one investigation
func (s *Store) GetInvestigation(ctx context.Context, id domain.InvestigationID) (*domain.Investigation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+investigationColumns+` FROM investigations WHERE id = ?`), string(id))
	inv, err := scanInvestigation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get investigation: %w", err)
	}
	return &inv, nil
}

// ListInvestigations returns investigations newest first
func (s *Store) ListInvestigations(ctx context.Context) ([]domain.Investigation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+investigationColumns+` FROM investigations ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list investigations: %w", err)
	}
	defer rows.Close()

	var out []domain.Investigation
	for rows.Next() {
		inv, err := scanInvestigation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan investigation: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// DeleteInvestigation removes the investigation and its records
func (s *Store) DeleteInvestigation(ctx context.Context, id domain.InvestigationID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireInvestigation(ctx, tx, id); err != nil {
			return err
		}
		for _, table := range []string{"correlations", "osint_items", "forensic_events"} {
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE investigation_id = ?`), string(id)); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM investigations WHERE id = ?`), string(id)); err != nil {
			return fmt.Errorf("delete investigation: %w", err)
		}
		return nil
	})
}

// ============================================================================
// Evidence
// ============================================================================

// SaveEvents upserts events by ID
func (s *Store) SaveEvents(ctx context.Context, id domain.InvestigationID, events []domain.ForensicEvent) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireInvestigation(ctx, tx, id); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO forensic_events
			(investigation_id, id, ts, file_path, event_type, file_size, description, file_type, inode, lat, lon)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (investigation_id, id) DO UPDATE SET
				ts = excluded.ts, file_path = excluded.file_path, event_type = excluded.event_type,
				file_size = excluded.file_size, description = excluded.description,
				file_type = excluded.file_type, inode = excluded.inode, lat = excluded.lat, lon = excluded.lon`))
		if err != nil {
			return fmt.Errorf("prepare event upsert: %w", err)
		}
		defer stmt.Close()

		for i := range events {
			e := &events[i]
			lat, lon := coordArgs(e.Location)
			var inode any
			if e.Inode != nil {
				inode = int64(*e.Inode)
			}
			_, err := stmt.ExecContext(ctx, string(id), e.ID, timeArg(e.Timestamp), e.FilePath, string(e.Type),
				int64Arg(e.Size), e.Description, e.FileType, inode, lat, lon)
			if err != nil {
				return fmt.Errorf("upsert event %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// ListEvents returns matching events ordered by timestamp, undated last
func (s *Store) ListEvents(ctx context.Context, id domain.InvestigationID, filter storage.EventFilter) ([]domain.ForensicEvent, error) {
	if err := s.requireInvestigation(ctx, s.db, id); err != nil {
		return nil, err
	}

	query := `SELECT id, ts, file_path, event_type, file_size, description, file_type, inode, lat, lon
		FROM forensic_events WHERE investigation_id = ?`
	args := []any{string(id)}
	if filter.Start != nil {
		query += ` AND ts >= ?`
		args = append(args, filter.Start.UnixNano())
	}
	if filter.End != nil {
		query += ` AND ts <= ?`
		args = append(args, filter.End.UnixNano())
	}
	if filter.PathContains != "" {
		query += ` AND LOWER(file_path) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(strings.ToLower(filter.PathContains))+"%")
	}
	query += ` ORDER BY ts IS NULL, ts, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.ForensicEvent
	for rows.Next() {
		var (
			e           domain.ForensicEvent
			eventType   string
			ts          sql.NullInt64
			size, inode sql.NullInt64
			lat, lon    sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &ts, &e.FilePath, &eventType, &size, &e.Description, &e.FileType, &inode, &lat, &lon); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.InvestigationID = id
		e.Type = domain.EventType(eventType)
		e.Timestamp = timeFrom(ts)
		if size.Valid {
			e.Size = &size.Int64
		}
		if inode.Valid {
			v := uint64(inode.Int64)
			e.Inode = &v
		}
		e.Location = coordFrom(lat, lon)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveItems upserts OSINT items by ID
func (s *Store) SaveItems(ctx context.Context, id domain.InvestigationID, items []domain.OSINTItem) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireInvestigation(ctx, tx, id); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO osint_items
			(investigation_id, id, source, ts, lat, lon, title, content, url, author)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (investigation_id, id) DO UPDATE SET
				source = excluded.source, ts = excluded.ts, lat = excluded.lat, lon = excluded.lon,
				title = excluded.title, content = excluded.content, url = excluded.url, author = excluded.author`))
		if err != nil {
			return fmt.Errorf("prepare item upsert: %w", err)
		}
		defer stmt.Close()

		for i := range items {
			it := &items[i]
			source := it.Source
			if source == "" {
				source = domain.SourceOther
			}
			lat, lon := coordArgs(it.Location)
			_, err := stmt.ExecContext(ctx, string(id), it.ID, string(source), timeArg(it.Timestamp), lat, lon,
				it.Title, it.Content, it.URL, it.Author)
			if err != nil {
				return fmt.Errorf("upsert item %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

// ListItems returns matching items ordered by timestamp, undated last
func (s *Store) ListItems(ctx context.Context, id domain.InvestigationID, filter storage.ItemFilter) ([]domain.OSINTItem, error) {
	if err := s.requireInvestigation(ctx, s.db, id); err != nil {
		return nil, err
	}

	query := `SELECT id, source, ts, lat, lon, title, content, url, author
		FROM osint_items WHERE investigation_id = ?`
	args := []any{string(id)}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	query += ` ORDER BY ts IS NULL, ts, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []domain.OSINTItem
	for rows.Next() {
		var (
			it       domain.OSINTItem
			source   string
			ts       sql.NullInt64
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&it.ID, &source, &ts, &lat, &lon, &it.Title, &it.Content, &it.URL, &it.Author); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.InvestigationID = id
		it.Source = domain.OSINTSource(source)
		it.Timestamp = timeFrom(ts)
		it.Location = coordFrom(lat, lon)
		out = append(out, it)
	}
	return out, rows.Err()
}

// ============================================================================
// Correlations
// ============================================================================

// ReplaceCorrelations deletes the previous run's rows and inserts the new ranking
func (s *Store) ReplaceCorrelations(ctx context.Context, id domain.InvestigationID, correlations []domain.Correlation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireInvestigation(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM correlations WHERE investigation_id = ?`), string(id)); err != nil {
			return fmt.Errorf("clear correlations: %w", err)
		}
		if len(correlations) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO correlations
			(investigation_id, seq, id, event_id, item_id, event_ts, temporal_score, spatial_score, content_score,
			 strength, time_delta, distance_km, narrative)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare correlation insert: %w", err)
		}
		defer stmt.Close()

		for i := range correlations {
			c := &correlations[i]
			var delta, dist, narrative any
			if c.TimeDelta != nil {
				delta = int64(*c.TimeDelta)
			}
			if c.DistanceKM != nil {
				dist = *c.DistanceKM
			}
			if c.Narrative != nil {
				narrative = *c.Narrative
			}
			_, err := stmt.ExecContext(ctx, string(id), i, c.ID, c.EventID, c.ItemID, timeArg(c.EventTimestamp),
				scoreArg(c.Temporal), scoreArg(c.Spatial), scoreArg(c.Content), c.Strength, delta, dist, narrative)
			if err != nil {
				return fmt.Errorf("insert correlation %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// ListCorrelations returns stored correlations in rank order
func (s *Store) ListCorrelations(ctx context.Context, id domain.InvestigationID, minStrength float64, limit int) ([]domain.Correlation, error) {
	if err := s.requireInvestigation(ctx, s.db, id); err != nil {
		return nil, err
	}

	query := `SELECT id, event_id, item_id, event_ts, temporal_score, spatial_score, content_score,
		strength, time_delta, distance_km, narrative
		FROM correlations WHERE investigation_id = ? AND strength >= ? ORDER BY seq`
	args := []any{string(id), minStrength}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list correlations: %w", err)
	}
	defer rows.Close()

	var out []domain.Correlation
	for rows.Next() {
		var (
			c                          domain.Correlation
			eventTS, delta             sql.NullInt64
			temporal, spatial, content sql.NullFloat64
			dist                       sql.NullFloat64
			narrative                  sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.EventID, &c.ItemID, &eventTS, &temporal, &spatial, &content,
			&c.Strength, &delta, &dist, &narrative); err != nil {
			return nil, fmt.Errorf("scan correlation: %w", err)
		}
		c.InvestigationID = id
		c.EventTimestamp = timeFrom(eventTS)
		c.Temporal = scoreFrom(temporal)
		c.Spatial = scoreFrom(spatial)
		c.Content = scoreFrom(content)
		if delta.Valid {
			d := time.Duration(delta.Int64)
			c.TimeDelta = &d
		}
		if dist.Valid {
			c.DistanceKM = &dist.Float64
		}
		if narrative.Valid {
			c.Narrative = &narrative.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Statistics counts records and folds correlation strengths
func (s *Store) Statistics(ctx context.Context, id domain.InvestigationID) (*storage.Statistics, error) {
	if err := s.requireInvestigation(ctx, s.db, id); err != nil {
		return nil, err
	}
	stats := &storage.Statistics{InvestigationID: id}

	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM forensic_events WHERE investigation_id = ?`),
		string(id)).Scan(&stats.Events); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM osint_items WHERE investigation_id = ?`),
		string(id)).Scan(&stats.Items); err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT strength, narrative FROM correlations WHERE investigation_id = ? ORDER BY seq`), string(id))
	if err != nil {
		return nil, fmt.Errorf("read strengths: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c         domain.Correlation
			narrative sql.NullString
		)
		if err := rows.Scan(&c.Strength, &narrative); err != nil {
			return nil, fmt.Errorf("scan strength: %w", err)
		}
		if narrative.Valid {
			c.Narrative = &narrative.String
		}
		stats.Add(&c)
	}
	return stats, rows.Err()
}

// ============================================================================
// Column helpers
// ============================================================================

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeFrom(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func int64Arg(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func coordArgs(c *domain.Coordinate) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Lat, c.Lon
}

func coordFrom(lat, lon sql.NullFloat64) *domain.Coordinate {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &domain.Coordinate{Lat: lat.Float64, Lon: lon.Float64}
}

func scoreArg(s domain.Score) any {
	if v, ok := s.Value(); ok {
		return v
	}
	return nil
}

func scoreFrom(v sql.NullFloat64) domain.Score {
	if !v.Valid {
		return domain.NotApplicable()
	}
	return domain.Applicable(v.Float64)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
