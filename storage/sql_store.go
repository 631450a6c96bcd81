package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"car-watchdog/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	insertBatchSize = 50
	listingColumns  = 8
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// SQLStore persists listings and push subscriptions in PostgreSQL or SQLite.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

type listingRow struct {
	ID             int64          `db:"id"`
	Source         sql.NullString `db:"source"`
	URL            string         `db:"url"`
	Title          string         `db:"title"`
	PriceFormatted sql.NullString `db:"price_formatted"`
	PriceCents     sql.NullInt64  `db:"price_cents"`
	ImageThumbnail sql.NullString `db:"image_thumbnail"`
	Locality       sql.NullString `db:"locality"`
	CreatedAt      time.Time      `db:"created_at"`
}

type subscriptionRow struct {
	ID        int64     `db:"id"`
	Endpoint  string    `db:"endpoint"`
	P256dh    string    `db:"p256dh"`
	Auth      string    `db:"auth"`
	CreatedAt time.Time `db:"created_at"`
}

// NewSQLStore opens a connection for the given driver, waits for the database
// to answer, runs schema migrations, and returns a ready-to-use SQLStore.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time; concurrent transactions queue on the pool.
		db.SetMaxOpenConns(1)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("storage: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping failed after retries: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	idCol, tsCol := "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	if s.driver == DriverSQLite {
		idCol, tsCol = "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS listings (
			id              %s,
			source          VARCHAR(16),
			url             TEXT    NOT NULL UNIQUE,
			title           TEXT    NOT NULL,
			price_formatted TEXT,
			price_cents     BIGINT,
			image_thumbnail TEXT,
			locality        TEXT,
			created_at      %s NOT NULL
		)`, idCol, tsCol),
		`CREATE INDEX IF NOT EXISTS idx_listings_source      ON listings(source)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_price_cents ON listings(price_cents)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_created_at  ON listings(created_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS push_subscriptions (
			id         %s,
			endpoint   TEXT NOT NULL UNIQUE,
			p256dh     TEXT NOT NULL,
			auth       TEXT NOT NULL,
			created_at %s NOT NULL
		)`, idCol, tsCol),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// ExistingIdentities returns which of the given URLs are already stored.
func (s *SQLStore) ExistingIdentities(ctx context.Context, urls []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(urls) == 0 {
		return existing, nil
	}

	query, args, err := sqlx.In(`SELECT url FROM listings WHERE url IN (?)`, urls)
	if err != nil {
		return nil, fmt.Errorf("storage: build identity query: %w", err)
	}

	var found []string
	if err := s.db.SelectContext(ctx, &found, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("storage: existing identities: %w", err)
	}
	for _, u := range found {
		existing[u] = struct{}{}
	}
	return existing, nil
}

// BulkInsert inserts all listings inside a single transaction. Any failure,
// including a duplicate URL, rolls back the whole batch; duplicates are
// reported as ErrConflict.
func (s *SQLStore) BulkInsert(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := 0; i < len(listings); i += insertBatchSize {
		end := i + insertBatchSize
		if end > len(listings) {
			end = len(listings)
		}
		if err := s.insertBatch(ctx, tx, listings[i:end]); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %w", ErrConflict, err)
			}
			return fmt.Errorf("storage: insert batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) insertBatch(ctx context.Context, tx *sqlx.Tx, batch []models.Listing) error {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", listingColumns), ",") + ")"
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*listingColumns)

	for _, l := range batch {
		valueStrings = append(valueStrings, placeholder)
		valueArgs = append(valueArgs,
			nullString(string(l.Source)),
			l.URL,
			l.Title,
			nullString(l.PriceDisplay),
			nullInt(l.PriceCents),
			nullString(l.ImageURL),
			nullString(l.Locality),
			l.CreatedAt.UTC(),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO listings (source, url, title, price_formatted, price_cents, image_thumbnail, locality, created_at)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	_, err := tx.ExecContext(ctx, tx.Rebind(query), valueArgs...)
	return err
}

// Stats counts listings per source, in total and created at or after since.
// Rows without a source are not attributed to any source.
func (s *SQLStore) Stats(ctx context.Context, since time.Time) (map[models.Source]models.SourceStats, error) {
	var rows []struct {
		Source string `db:"source"`
		Total  int    `db:"total"`
		Today  int    `db:"today"`
	}

	query := s.db.Rebind(`
		SELECT source,
		       COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS today
		FROM listings
		WHERE source IS NOT NULL
		GROUP BY source
	`)
	if err := s.db.SelectContext(ctx, &rows, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("storage: stats: %w", err)
	}

	stats := make(map[models.Source]models.SourceStats, len(models.Sources))
	for _, src := range models.Sources {
		stats[src] = models.SourceStats{}
	}
	for _, r := range rows {
		src := models.Source(r.Source)
		if !src.Valid() {
			continue
		}
		stats[src] = models.SourceStats{Total: r.Total, Today: r.Today}
	}
	return stats, nil
}

// Recent returns the newest listings, optionally restricted to one source.
func (s *SQLStore) Recent(ctx context.Context, source models.Source, limit int) ([]models.Listing, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, source, url, title, price_formatted, price_cents, image_thumbnail, locality, created_at
		FROM listings`
	args := []interface{}{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var rows []listingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("storage: recent listings: %w", err)
	}

	listings := make([]models.Listing, 0, len(rows))
	for _, r := range rows {
		l := models.Listing{
			ID:           r.ID,
			Source:       models.Source(r.Source.String),
			URL:          r.URL,
			Title:        r.Title,
			PriceDisplay: r.PriceFormatted.String,
			ImageURL:     r.ImageThumbnail.String,
			Locality:     r.Locality.String,
			CreatedAt:    r.CreatedAt,
		}
		if r.PriceCents.Valid {
			cents := r.PriceCents.Int64
			l.PriceCents = &cents
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// AllSubscriptions returns every registered push subscription.
func (s *SQLStore) AllSubscriptions(ctx context.Context) ([]models.PushSubscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, endpoint, p256dh, auth, created_at FROM push_subscriptions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: all subscriptions: %w", err)
	}

	subs := make([]models.PushSubscription, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, models.PushSubscription(r))
	}
	return subs, nil
}

// UpsertSubscription finds the subscription by endpoint or creates it.
// Keys of an existing subscription are left untouched.
func (s *SQLStore) UpsertSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	insert := s.db.Rebind(`
		INSERT INTO push_subscriptions (endpoint, p256dh, auth, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (endpoint) DO NOTHING
	`)
	if _, err := s.db.ExecContext(ctx, insert, sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt.UTC()); err != nil {
		return models.PushSubscription{}, fmt.Errorf("storage: upsert subscription: %w", err)
	}

	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT id, endpoint, p256dh, auth, created_at FROM push_subscriptions WHERE endpoint = ?`), sub.Endpoint)
	if err != nil {
		return models.PushSubscription{}, fmt.Errorf("storage: load subscription: %w", err)
	}
	return models.PushSubscription(row), nil
}

// DeleteSubscription removes a subscription by id. Deleting a missing row is not an error.
func (s *SQLStore) DeleteSubscription(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM push_subscriptions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("storage: delete subscription %d: %w", id, err)
	}
	return nil
}

// CountSubscriptions returns the number of registered subscriptions.
func (s *SQLStore) CountSubscriptions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM push_subscriptions`); err != nil {
		return 0, fmt.Errorf("storage: count subscriptions: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
			strings.Contains(liteErr.Error(), "UNIQUE")
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
