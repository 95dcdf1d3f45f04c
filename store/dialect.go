package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
)

// dialect hides the differences between the supported SQL engines:
// placeholder syntax, how a new row id is returned, and the schema.
type dialect struct {
	name      string
	returning bool
	schema    []string
}

var dialects = map[string]dialect{
	DriverPostgres: {
		name:      DriverPostgres,
		returning: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS users (
    id SERIAL PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS todos (
    id SERIAL PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    user_id INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
)`,
			`CREATE INDEX IF NOT EXISTS todos_user_id_idx ON todos (user_id)`,
		},
	},
	DriverSQLite: {
		name: DriverSQLite,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS todos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    completed BOOLEAN NOT NULL DEFAULT 0,
    user_id INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
)`,
			`CREATE INDEX IF NOT EXISTS todos_user_id_idx ON todos (user_id)`,
		},
	},
	DriverMySQL: {
		name: DriverMySQL,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    password_hash VARCHAR(255) NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS todos (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    user_id BIGINT NOT NULL,
    INDEX todos_user_id_idx (user_id),
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
)`,
		},
	},
}

func lookupDialect(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
	return d, nil
}

// rebind rewrites '?' placeholders into the driver's native form.
func (d dialect) rebind(query string) string {
	if d.name != DriverPostgres {
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

// prepareSource adjusts a data source name before it is handed to the
// driver. MySQL reports matched rather than changed rows so that an update
// writing identical values is not mistaken for a missing record.
func prepareSource(driver, source string) (string, error) {
	if driver != DriverMySQL {
		return source, nil
	}
	cfg, err := mysql.ParseDSN(source)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
