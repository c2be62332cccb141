// Package store is the station's session log: state transitions, tag
// events, the messaging outbox and operator accounts. The log covers one
// process lifetime; Open clears the session tables.
package store

import (
	"database/sql"
	"fmt"

	"linetrack/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	dialect Dialect
}

// sessionTables are emptied on every Open; operators is not among them.
var sessionTables = []string{"state_transitions", "tag_events", "outbox"}

// Open connects to the configured driver, applies the schema and starts a
// fresh session.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	var (
		sqlDB   *sql.DB
		dialect Dialect
		schema  string
		err     error
	)
	switch cfg.Driver {
	case "sqlite", "":
		dialect, schema = sqliteDialect, schemaSQLite
		sqlDB, err = openSQLite(cfg.SQLite.Path)
	case "postgres":
		dialect, schema = postgresDialect, schemaPostgres
		sqlDB, err = openPostgres(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{DB: sqlDB, dialect: dialect}
	if _, err := db.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate %s: %w", dialect.Name, err)
	}
	if err := db.Reset(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("reset session: %w", err)
	}
	return db, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	sqlDB, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: an in-memory database lives only as long as it does.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return sqlDB, nil
}

func openPostgres(cfg *config.PostgresConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres %s: %w", cfg.Host, err)
	}
	return sqlDB, nil
}

func (db *DB) Dialect() Dialect { return db.dialect }
func (db *DB) Driver() string   { return db.dialect.Name }

// Q rebinds a ?-marked query for the open driver.
func (db *DB) Q(query string) string { return db.dialect.Rebind(query) }

// insertID runs an INSERT and returns the new row id. Both drivers support
// RETURNING.
func (db *DB) insertID(query string, args ...any) (int64, error) {
	var id int64
	err := db.QueryRow(db.Q(query+` RETURNING id`), args...).Scan(&id)
	return id, err
}

// Reset empties the session tables.
func (db *DB) Reset() error {
	for _, table := range sessionTables {
		if _, err := db.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
