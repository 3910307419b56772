package database

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// pure-Go driver registered as "sqlite"
	_ "modernc.org/sqlite"
)

type Options struct {
	MaxOpenConns int
	Tracing      bool
	// Verbose enables gorm SQL logging.
	Verbose bool
	Log     logrus.FieldLogger
}

// Connect opens Postgres for postgres:// DSNs, MySQL for mysql:// DSNs and
// SQLite for anything else.
func Connect(dsn string, opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if opts.Verbose {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		logf(opts, "connecting to PostgreSQL")
		dialector = postgres.Open(dsn)
	case strings.HasPrefix(dsn, "mysql://"):
		logf(opts, "connecting to MySQL")
		dialector = gormmysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	default:
		logf(opts, "using SQLite: "+dsn)
		dialector = gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        dsn,
		})
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if opts.Tracing {
		if err := db.Use(otelgorm.NewPlugin()); err != nil && opts.Log != nil {
			opts.Log.WithError(err).Warn("db connected but failed to install otelgorm plugin")
		}
	}
	return db, nil
}

func logf(opts Options, msg string) {
	if opts.Log != nil {
		opts.Log.Info(msg)
	}
}

// IsUniqueViolation reports whether err is a unique-constraint violation on
// any of the supported drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique failed")
}

// IsUniqueViolationOn narrows IsUniqueViolation to one index. SQLite names
// the columns rather than the index, so callers pass both forms.
func IsUniqueViolationOn(err error, names ...string) bool {
	if !IsUniqueViolation(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName != "" {
		for _, n := range names {
			if pgErr.ConstraintName == n {
				return true
			}
		}
		return false
	}
	msg := err.Error()
	for _, n := range names {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
