package model

import (
	"fmt"
	"os"
	"path"
	"time"

	"ccwallet/pkg/config"
	"ccwallet/pkg/model/xgorm"
	"ccwallet/pkg/xlog"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var (
	db     *gorm.DB
	rds    *redis.Client
	logger = xlog.GetLogger()
)

// DBInit opens mysql when enabled, otherwise the sqlite file from config,
// and redis when enabled.
func DBInit() {
	if config.Shared.MySQL.Main.Enabled {
		db = OpenMySQL()
	} else {
		db = OpenSQLite(config.Shared.SQLite.Path)
	}
	if config.Shared.Redis.Main.Enabled {
		rds = OpenRedis("main")
	}
}

func OpenMySQL() *gorm.DB {
	return OpenMySQLRaw("main")
}

func OpenMySQLRaw(name string) *gorm.DB {
	cfg := config.Shared.MySQL.Main
	if cfg.Host == "" {
		logger.Fatalf("empty db host for %s", name)
	}

	logger.Infof("mysql(%s) connecting tcp(%s:%d)/%s",
		name, cfg.Host, cfg.Port, cfg.DB,
	)

	url := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User, cfg.Pass, cfg.Host, cfg.Port, cfg.DB,
	)

	db, err := gorm.Open(mysql.Open(url), gormConfig())
	if err != nil {
		logger.Fatalf("connect mysql failed #1, err:%s", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("connect mysql failed #2, err:%s", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(10 * time.Hour)
	sqlDB.SetMaxIdleConns(20)

	logger.Infof("mysql(%s) connected tcp(%s:%d)/%s",
		name, cfg.Host, cfg.Port, cfg.DB,
	)

	return db
}

// OpenSQLite opens a single-connection sqlite database. An empty file means
// a private in-memory database.
func OpenSQLite(file string) *gorm.DB {
	dsn := "file::memory:"
	if file != "" {
		if err := os.MkdirAll(path.Dir(file), 0755); err != nil {
			logger.Fatalf("create sqlite dir failed, err:%s", err)
		}
		dsn = "file:" + file + "?_busy_timeout=5000&_fk=1"
	}

	db, err := NewSQLite(dsn)
	if err != nil {
		logger.Fatalf("open sqlite %s failed, err:%s", dsn, err)
	}
	logger.Infof("sqlite opened %s", dsn)
	return db
}

// NewSQLite opens dsn with the wallet gorm settings. sqlite allows one
// writer, so the pool is limited to a single connection.
func NewSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
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

func gormConfig() *gorm.Config {
	logMode := gormLogger.Info
	if config.Shared == nil || !config.Shared.IsDebug {
		logMode = gormLogger.Warn
	}

	return &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger: xgorm.New(gormLogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logMode,
		}),
	}
}

func OpenRedis(name string) *redis.Client {
	cfg := config.Shared.Redis.Main
	if rds != nil {
		return rds
	}

	logger.Infof("redis(%s) connecting %s[%d]", name, cfg.Addr, cfg.DB)

	opts := redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	}
	if cfg.Timeout > 0 {
		opts.ReadTimeout = time.Duration(cfg.Timeout) * time.Millisecond
		opts.WriteTimeout = opts.ReadTimeout
	}

	rc := redis.NewClient(&opts)

	logger.Infof("redis(%s) connected %s[%d]", name, cfg.Addr, cfg.DB)

	return rc
}

// GetRedis returns nil when redis is disabled.
func GetRedis() *redis.Client {
	return rds
}

func GetDB() *gorm.DB {
	return db
}
