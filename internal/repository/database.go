package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/spigell/hh-analyzer/internal/models"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Config describes the database connection.
type Config struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	Name    string `mapstructure:"name"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Charset string `mapstructure:"charset"`
	MaxIdle int    `mapstructure:"max-idle"`
	MaxOpen int    `mapstructure:"max-open"`
}

// dsnFor returns the explicit dsn or builds a MySQL one from the parts.
func (c Config) dsnFor(driver string) string {
	if c.DSN != "" {
		return c.DSN
	}
	if driver == DriverSQLite {
		return "hh-analyzer.db"
	}

	charset := c.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	port := c.Port
	if port == "" {
		port = "3306"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=UTC",
		c.User, c.Pass, c.Host, port, c.Name, charset)
}

// Open connects to the configured database.
func Open(cfg Config, log *zap.Logger) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverMySQL
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(cfg.dsnFor(driver))
	case DriverSQLite:
		dsn := cfg.dsnFor(driver)
		if !strings.Contains(dsn, "_pragma") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   newGormLogger(log),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if driver == DriverSQLite {
		// single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		maxIdle, maxOpen := cfg.MaxIdle, cfg.MaxOpen
		if maxIdle <= 0 {
			maxIdle = 10
		}
		if maxOpen <= 0 {
			maxOpen = 50
		}
		sqlDB.SetMaxIdleConns(maxIdle)
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if log != nil {
		log.Debug("database connection established", zap.String("driver", driver))
	}

	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
