package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/RealZimboGuy/reguaflow/internal/config"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/core"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness rule, e.g. a second active execution.
	ErrConflict = errors.New("conflict")
)

const (
	sqliteTimeFormat = "2006-01-02 15:04:05.000"
	mysqlTimeFormat  = "2006-01-02 15:04:05.000000"
)

func databaseType() string {
	return config.GetSystemSettingString(config.DATABASE_TYPE)
}

// placeholder returns the correct bind variable for the given index based on DB type.
// Postgres uses $1, $2... while MySQL and SQLite use ?
func placeholder(i int) string {
	if databaseType() == config.DATABASE_TYPE_POSTGRES {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// placeholders returns n comma separated bind variables starting at index from.
func placeholders(from, n int) string {
	pps := make([]string, 0, n)
	for i := 0; i < n; i++ {
		pps = append(pps, placeholder(from+i))
	}
	return strings.Join(pps, ", ")
}

// nowFunc renders the clock's current time as a quoted SQL literal.
func nowFunc(clock core.Clock) string {
	return "'" + formatTimeLiteral(clock.Now()) + "'"
}

func formatTimeLiteral(t time.Time) string {
	switch databaseType() {
	case config.DATABASE_TYPE_SQLLITE:
		return t.UTC().Format(sqliteTimeFormat)
	default:
		return t.UTC().Format(mysqlTimeFormat)
	}
}

// compareDate returns a predicate "column op t". SQLite stores timestamps as TEXT so both
// sides are coerced through julianday().
func compareDate(column string, op string, t time.Time) string {
	literal := formatTimeLiteral(t)
	if databaseType() == config.DATABASE_TYPE_SQLLITE {
		return fmt.Sprintf("julianday(%s) %s julianday('%s')", column, op, literal)
	}
	return fmt.Sprintf("%s %s '%s'", column, op, literal)
}

// formatDateInDatabase converts t to the bind value each driver stores losslessly.
func formatDateInDatabase(t time.Time) any {
	switch databaseType() {
	case config.DATABASE_TYPE_SQLLITE:
		return t.UTC().Format(sqliteTimeFormat)
	case config.DATABASE_TYPE_MYSQL:
		return t.UTC().Format(mysqlTimeFormat)
	default:
		// PostgreSQL supports RFC3339
		return t.UTC().Format(time.RFC3339Nano)
	}
}

func formatDateInDatabaseNull(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return formatDateInDatabase(t.Time)
}

func nullString(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}

func nullFloat(f sql.NullFloat64) any {
	if !f.Valid {
		return nil
	}
	return f.Float64
}

func limitClause(i int) string {
	return " LIMIT " + placeholder(i)
}

// isUniqueViolation recognises unique constraint errors from all three drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error, what string, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}

func rowsAffectedOne(res sql.Result, err error) bool {
	if err != nil {
		return false
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false
	}
	return n == 1
}
