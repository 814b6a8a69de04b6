package database

import (
	"strings"

	"commissions-backend/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a GORM DB from DSN. A "sqlite:" prefix selects the embedded SQLite driver (local runs
// and tests); anything else is treated as a Postgres URL.
// PreferSimpleProtocol disables prepared statement caching to avoid 42P05
// ("prepared statement already exists") when using connection poolers (e.g. PgBouncer, Supabase, Render).
func Open(dsn string) (*gorm.DB, error) {
	if rest, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		return OpenSQLite(rest)
	}
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
}

// OpenSQLite opens an SQLite database. The pool is pinned to one connection so that an in-memory
// database is shared by every caller and writers queue instead of failing with SQLITE_BUSY.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// AutoMigrate runs migrations for every persisted model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Account{},
		&domain.LedgerEntry{},
		&domain.Project{},
		&domain.ProjectStatusHistory{},
		&domain.EscrowSettlement{},
		&domain.Deliverable{},
		&domain.WithdrawalRequest{},
		&domain.Payment{},
	)
}
