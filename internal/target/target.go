// Package target describes the user databases questions are asked against and
// opens the short-lived connections used to inspect and query them.
package target

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
	DialectDuckDB   Dialect = "duckdb"
)

func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "duckdb":
		return DialectDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", raw)
	}
}

// FileBased reports whether the dialect addresses a local database file
// instead of a network server.
func (d Dialect) FileBased() bool {
	return d == DialectSQLite || d == DialectDuckDB
}

func (d Dialect) driverName() string {
	switch d {
	case DialectMySQL:
		return "mysql"
	case DialectPostgres:
		return "pgx"
	case DialectSQLite:
		return "sqlite3"
	case DialectDuckDB:
		return "duckdb"
	default:
		return ""
	}
}

func (d Dialect) defaultPort() int {
	switch d {
	case DialectMySQL:
		return 3306
	case DialectPostgres:
		return 5432
	default:
		return 0
	}
}

// Target is a saved or ad-hoc database connection. For file based dialects
// Database holds the file path and the network fields are ignored.
type Target struct {
	ID       int64
	Name     string
	Dialect  Dialect
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (t Target) Validate() error {
	if t.Dialect.driverName() == "" {
		return fmt.Errorf("unsupported dialect %q", t.Dialect)
	}
	if strings.TrimSpace(t.Database) == "" {
		return fmt.Errorf("database is required")
	}
	if t.Dialect.FileBased() {
		return nil
	}
	if strings.TrimSpace(t.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if strings.TrimSpace(t.User) == "" {
		return fmt.Errorf("user is required")
	}
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("port %d out of range", t.Port)
	}
	return nil
}

// Address identifies the target in logs and errors. It never includes
// credentials.
func (t Target) Address() string {
	if t.Dialect.FileBased() {
		return t.Database
	}
	port := t.Port
	if port == 0 {
		port = t.Dialect.defaultPort()
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port)) + "/" + t.Database
}

func (t Target) dataSourceName() (string, error) {
	port := t.Port
	if port == 0 {
		port = t.Dialect.defaultPort()
	}
	switch t.Dialect {
	case DialectMySQL:
		cfg := mysql.NewConfig()
		cfg.User = t.User
		cfg.Passwd = t.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(t.Host, strconv.Itoa(port))
		cfg.DBName = t.Database
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case DialectPostgres:
		sslMode := t.SSLMode
		if sslMode == "" {
			sslMode = "prefer"
		}
		dsn := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(t.User, t.Password),
			Host:     net.JoinHostPort(t.Host, strconv.Itoa(port)),
			Path:     "/" + t.Database,
			RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
		}
		return dsn.String(), nil
	case DialectSQLite:
		return "file:" + t.Database + "?mode=rw", nil
	case DialectDuckDB:
		return t.Database, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", t.Dialect)
	}
}
