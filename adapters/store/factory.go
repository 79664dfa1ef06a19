package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/passage/ports"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Driver identifiers for principal and revocation storage
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the storage backends
type Config struct {
	Driver   string // memory, sqlite or postgres
	DSN      string // SQL connection string, unused for memory
	RedisURL string // when set, revocations and challenges live in Redis
	Prefix   string // Redis key prefix
}

// Stores bundles the storage ports used by the services
type Stores struct {
	Principals  ports.PrincipalStore
	Revocations ports.RevocationStore
	Challenges  ports.ChallengeStore

	// Redis is the shared client when RedisURL is configured, otherwise nil
	Redis *redis.Client
	// DB is the SQL handle for sql drivers, otherwise nil
	DB *gorm.DB
}

// Open builds every store for cfg. The caller must Close the result.
func Open(ctx context.Context, cfg Config) (*Stores, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	stores := &Stores{}
	switch driver {
	case DriverMemory:
		stores.Principals = NewMemoryPrincipalStore()
		stores.Revocations = NewMemoryStore()
	case DriverSQLite, DriverPostgres:
		db, err := openSQL(driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate %s schema: %w", driver, err)
		}
		stores.DB = db
		stores.Principals = NewGormPrincipalStore(db)
		stores.Revocations = NewGormStore(db)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	stores.Challenges = NewMemoryChallengeStore()

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			stores.Close()
			return nil, unavailable("failed to connect to redis", err)
		}
		stores.Redis = client
		stores.Revocations = NewRedisStore(client, cfg.Prefix)
		stores.Challenges = NewRedisChallengeStore(client, cfg.Prefix)
	}

	return stores, nil
}

func openSQL(driver, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s driver requires a dsn", driver)
	}
	var dialector gorm.Dialector
	if driver == DriverSQLite {
		dialector = sqlite.Open(dsn)
	} else {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, unavailable("failed to open "+driver+" database", err)
	}
	return db, nil
}

// Close releases the Redis client and SQL connections
func (s *Stores) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		if sqlDB, err := s.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		} else {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping checks that the networked backends answer
func (s *Stores) Ping(ctx context.Context) error {
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return unavailable("redis ping failed", err)
		}
	}
	if s.DB != nil {
		sqlDB, err := s.DB.DB()
		if err != nil {
			return unavailable("sql handle", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return unavailable("sql ping failed", err)
		}
	}
	return nil
}
