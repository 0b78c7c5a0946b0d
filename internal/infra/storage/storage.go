package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"predict_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Options selects the SQL backend.
type Options struct {
	Driver       string // sqlite | postgres
	DSN          string
	MaxOpenConns int
}

// Storage is the transactional store behind the ledger.
// Reads outside a transaction go through the embedded Queries.
type Storage struct {
	*Queries
	db     *gorm.DB
	driver string
}

// Models lists every table managed by AutoMigrate.
var Models = []any{
	&domain.Market{},
	&domain.Account{},
	&domain.Position{},
	&domain.LedgerEntry{},
	&domain.Dispute{},
	&domain.DisputeVote{},
	&domain.Withdrawal{},
	&domain.FeeAccrual{},
}

// Open connects to the configured backend and migrates the schema.
func Open(opts Options) (*Storage, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "", "sqlite":
		if err := ensureDir(opts.DSN); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
		dialector = sqlite.Open(opts.DSN)
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		// One writer: every transaction owns the only connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
		if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
			return nil, fmt.Errorf("failed to configure sqlite: %w", err)
		}
	} else if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Storage, error) {
	if err := db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{Queries: &Queries{db: db}, db: db, driver: db.Dialector.Name()}, nil
}

// Driver reports the dialect name ("sqlite" or "postgres").
func (s *Storage) Driver() string {
	return s.driver
}

// DB exposes the underlying handle for maintenance tooling.
func (s *Storage) DB() *gorm.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn within a transaction.
// If fn returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
// Business-rule errors are returned unchanged; anything else is a StoreError.
func (s *Storage) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Queries{db: tx})
	})
	if err == nil || domain.IsBusinessRule(err) {
		return err
	}
	var se *domain.StoreError
	if errors.As(err, &se) || errors.Is(err, ErrDuplicateRef) {
		return err
	}
	return domain.NewStoreError("transaction", err)
}

// ErrDuplicateRef is returned when an external reference was already recorded.
var ErrDuplicateRef = errors.New("external reference already recorded")

// Queries issues row operations against either the pool or a transaction.
type Queries struct {
	db *gorm.DB
}

func (q *Queries) conn(ctx context.Context) *gorm.DB {
	return q.db.WithContext(ctx)
}

// forUpdate adds SELECT ... FOR UPDATE. Dialects without row locks
// (sqlite) drop the clause; the single connection serialises writers there.
func (q *Queries) forUpdate(ctx context.Context) *gorm.DB {
	return q.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewFatalStoreError(op, err)
	}
	return domain.NewStoreError(op, err)
}

// isUniqueViolation recognises duplicate-key failures from either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}

// ensureDir creates the parent directory of a file-backed sqlite DSN.
func ensureDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	path := dsn
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// likePrefix turns a user-typed id prefix into a LIKE pattern.
// Wildcards are rejected rather than escaped; ids never contain them.
func likePrefix(prefix string) (string, bool) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || strings.ContainsAny(prefix, `%_\`) {
		return "", false
	}
	return prefix + "%", true
}
