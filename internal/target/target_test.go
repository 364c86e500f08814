package target

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDialect(t *testing.T) {
	for raw, want := range map[string]Dialect{
		"MySQL":      DialectMySQL,
		"PostgreSQL": DialectPostgres,
		"sqlite3":    DialectSQLite,
		" duckdb ":   DialectDuckDB,
	} {
		got, err := ParseDialect(raw)
		if err != nil {
			t.Fatalf("ParseDialect(%q) error = %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseDialect(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Fatal("expected error for unsupported dialect")
	}
}

func TestValidate(t *testing.T) {
	valid := Target{Dialect: DialectMySQL, Host: "db", User: "root", Database: "chinook"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := (Target{Dialect: DialectDuckDB, Database: "/tmp/x.duckdb"}).Validate(); err != nil {
		t.Fatalf("Validate(file) error = %v", err)
	}

	invalid := []Target{
		{Dialect: "oracle", Host: "db", User: "root", Database: "x"},
		{Dialect: DialectMySQL, Host: "db", User: "root"},
		{Dialect: DialectPostgres, User: "root", Database: "x"},
		{Dialect: DialectPostgres, Host: "db", Database: "x"},
		{Dialect: DialectPostgres, Host: "db", User: "root", Database: "x", Port: 70000},
	}
	for _, candidate := range invalid {
		if err := candidate.Validate(); err == nil {
			t.Fatalf("Validate(%+v) expected error", candidate)
		}
	}
}

func TestDataSourceNames(t *testing.T) {
	mysqlDSN, err := Target{Dialect: DialectMySQL, Host: "db", User: "root", Password: "p@ss", Database: "chinook"}.dataSourceName()
	if err != nil {
		t.Fatalf("dataSourceName(mysql) error = %v", err)
	}
	if !strings.HasPrefix(mysqlDSN, "root:p@ss@tcp(db:3306)/chinook?") || !strings.Contains(mysqlDSN, "parseTime=true") {
		t.Fatalf("mysql dsn = %q", mysqlDSN)
	}

	pgDSN, err := Target{Dialect: DialectPostgres, Host: "pg", Port: 6543, User: "app", Password: "s3cret", Database: "sales"}.dataSourceName()
	if err != nil {
		t.Fatalf("dataSourceName(postgres) error = %v", err)
	}
	if pgDSN != "postgres://app:s3cret@pg:6543/sales?sslmode=prefer" {
		t.Fatalf("postgres dsn = %q", pgDSN)
	}

	sqliteDSN, _ := Target{Dialect: DialectSQLite, Database: "/data/app.db"}.dataSourceName()
	if sqliteDSN != "file:/data/app.db?mode=rw" {
		t.Fatalf("sqlite dsn = %q", sqliteDSN)
	}
}

func TestAddressOmitsCredentials(t *testing.T) {
	target := Target{Dialect: DialectPostgres, Host: "pg", User: "app", Password: "s3cret", Database: "sales"}
	if got := target.Address(); got != "pg:5432/sales" {
		t.Fatalf("Address() = %q", got)
	}
	if strings.Contains(target.Address(), "s3cret") {
		t.Fatal("Address() leaked password")
	}
}

func TestOpenMissingFileIsConnectionError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.duckdb")
	_, err := Open(context.Background(), Target{Dialect: DialectDuckDB, Database: path})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Open() error = %v, want ConnectionError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Open() error = %v, want wrapped ErrNotExist", err)
	}
	if connErr.Address != path {
		t.Fatalf("Address = %q", connErr.Address)
	}
}

func TestOpenDuckDBFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chinook.duckdb")
	seed, err := sql.Open("duckdb", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	if _, err := seed.Exec(`CREATE TABLE Artist (ArtistId INTEGER, Name VARCHAR)`); err != nil {
		t.Fatalf("seed error = %v", err)
	}
	_ = seed.Close()

	db, err := Open(context.Background(), Target{Dialect: DialectDuckDB, Database: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	if stats := db.Stats(); stats.MaxOpenConnections != 1 {
		t.Fatalf("MaxOpenConnections = %d", stats.MaxOpenConnections)
	}
}

func TestOpenRejectsInvalidTarget(t *testing.T) {
	_, err := Open(context.Background(), Target{Dialect: DialectMySQL})
	if err == nil {
		t.Fatal("expected error")
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		t.Fatal("validation failure should not be a ConnectionError")
	}
}

func TestConnectionInfoRoundTrip(t *testing.T) {
	encoded, err := EncodeConnectionInfo(Target{Host: "db", Port: 3306, User: "root", Password: "pw", Database: "chinook"})
	if err != nil {
		t.Fatalf("EncodeConnectionInfo() error = %v", err)
	}
	decoded, err := FromConnectionInfo(7, "music", "MySQL", encoded)
	if err != nil {
		t.Fatalf("FromConnectionInfo() error = %v", err)
	}
	if decoded.ID != 7 || decoded.Name != "music" || decoded.Dialect != DialectMySQL || decoded.Port != 3306 || decoded.Password != "pw" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestFromConnectionInfoAcceptsQuotedPort(t *testing.T) {
	raw := `{"host":"localhost","port":"5432","user":"u","password":"","database":"d"}`
	decoded, err := FromConnectionInfo(1, "pg", "PostgreSQL", raw)
	if err != nil {
		t.Fatalf("FromConnectionInfo() error = %v", err)
	}
	if decoded.Port != 5432 {
		t.Fatalf("Port = %d", decoded.Port)
	}
	if _, err := FromConnectionInfo(1, "pg", "PostgreSQL", `{"port":"abc"}`); err == nil {
		t.Fatal("expected error for invalid port")
	}
	if _, err := FromConnectionInfo(1, "pg", "oracle", raw); err == nil {
		t.Fatal("expected error for unsupported dialect")
	}
}
