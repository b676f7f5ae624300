// Package store provides database/sql persistence for decisions, policy
// configs, and verification logs. SQLite (pure Go driver) is the default;
// Postgres is used when the database URL says so. Each store performs
// independent single-entity writes; there are no multi-entity transactions,
// which is why a crash mid-pipeline can leave a decision in VERIFYING with
// no matching log row.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DriverName identifies the SQL dialect in use.
type DriverName string

const (
	DriverSQLite   DriverName = "sqlite"
	DriverPostgres DriverName = "postgres"
)

// Open connects to the database described by databaseURL. URLs with a
// postgres scheme use lib/pq; anything else is treated as a SQLite path
// (":memory:" included).
func Open(databaseURL string) (*sql.DB, DriverName, error) {
	driver := DriverSQLite
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = DriverPostgres
	}

	db, err := sql.Open(string(driver), databaseURL)
	if err != nil {
		return nil, driver, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, driver, fmt.Errorf("ping database: %w", err)
	}
	return db, driver, nil
}

// rebind converts ?-style placeholders to the driver's dialect.
func rebind(driver DriverName, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Timestamps are stored as RFC 3339 strings so both dialects round-trip
// identically.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
