package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"byok-api/internal/config"
	"byok-api/internal/logger"
	"byok-api/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// memoryDSN SQLite 内存库，测试使用
const memoryDSN = ":memory:"

// DB 运行时设置与摘要缓存共用的 gorm 连接
type DB struct {
	gorm   *gorm.DB
	dbType config.DatabaseType
}

// schema 需要维护的表，按顺序迁移
var schema = []struct {
	name  string
	model interface{}
}{
	{"settings", &models.Setting{}},
	{"history_summary_cache", &models.SummaryCacheEntry{}},
}

// New 按配置打开 SQLite 或 MySQL；PostgreSQL 只承载摘要缓存，由 NewPostgresSummaryStore 打开
func New(cfg *config.Config) (*DB, error) {
	dc := cfg.Database
	dialector, err := openDialector(dc)
	if err != nil {
		return nil, err
	}

	level := gormlogger.Silent
	if cfg.Debug {
		level = gormlogger.Info
	}
	gormDB, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	db := &DB{gorm: gormDB, dbType: dc.Type}
	if err := db.configurePool(dc.SQLite.Path == memoryDSN); err != nil {
		return nil, err
	}
	if err := db.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("迁移数据库结构失败: %w", err)
	}
	return db, nil
}

func openDialector(dc config.DatabaseConfig) (gorm.Dialector, error) {
	switch dc.Type {
	case config.DatabaseTypeMySQL:
		m := dc.MySQL
		charset := m.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		logger.Info("[DB] 使用 MySQL 数据库: %s@%s:%d/%s", m.User, m.Host, m.Port, m.Database)
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
			m.User, m.Password, m.Host, m.Port, m.Database, charset)), nil

	case config.DatabaseTypePostgres:
		return nil, errors.New("PostgreSQL 仅支持摘要缓存存储，请使用 NewPostgresSummaryStore")

	default:
		path := dc.SQLite.Path
		if path == "" {
			path = "data.sqlite3"
		}
		logger.Info("[DB] 使用 SQLite 数据库: %s", path)
		if path == memoryDSN {
			return sqlite.Open(path), nil
		}
		// 多个请求可能同时写入同一会话的摘要，由 busy_timeout 排队
		return sqlite.Open(path + "?_pragma=busy_timeout(30000)&_txlock=immediate"), nil
	}
}

// configurePool 连接池大小；内存库每个连接是独立的库，只能保留一个连接
func (db *DB) configurePool(inMemory bool) error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return fmt.Errorf("获取数据库连接失败: %w", err)
	}
	switch {
	case db.IsMySQL():
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	case inMemory:
		sqlDB.SetMaxOpenConns(1)
	default:
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", "PRAGMA temp_store=MEMORY"} {
			if err := db.gorm.Exec(p).Error; err != nil {
				logger.Warn("[DB] 执行 %s 失败: %v", p, err)
			}
		}
	}
	return nil
}

// migrate 建表，已有表只补齐缺失的列
func (db *DB) migrate() error {
	m := db.gorm.Migrator()
	for _, t := range schema {
		if !m.HasTable(t.model) {
			if err := m.CreateTable(t.model); err != nil {
				return fmt.Errorf("创建表 %s 失败: %w", t.name, err)
			}
			logger.Info("[DB] 创建表: %s", t.name)
			continue
		}

		stmt := &gorm.Statement{DB: db.gorm}
		if err := stmt.Parse(t.model); err != nil {
			return err
		}
		for _, field := range stmt.Schema.Fields {
			if field.DBName == "" || m.HasColumn(t.model, field.DBName) {
				continue
			}
			if err := m.AddColumn(t.model, field.DBName); err != nil {
				logger.Warn("[DB] 添加列 %s.%s 失败: %v", t.name, field.DBName, err)
				continue
			}
			logger.Info("[DB] 添加列: %s.%s", t.name, field.DBName)
		}
	}
	return nil
}

// Ping 检查连接是否可用
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (db *DB) IsMySQL() bool { return db.dbType == config.DatabaseTypeMySQL }

// isLockError SQLite 写锁冲突
func isLockError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// RetryOnLock SQLite 遇到写锁冲突时退避重试，MySQL 直接执行
func (db *DB) RetryOnLock(ctx context.Context, maxRetries int, fn func() error) error {
	if db.IsMySQL() {
		return fn()
	}
	var err error
	for attempt := 1; attempt <= max(maxRetries, 1); attempt++ {
		if err = fn(); err == nil || !isLockError(err) {
			return err
		}
		logger.Debug("[DB] 写入遇到锁冲突，第 %d 次重试", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(10*attempt) * time.Millisecond):
		}
	}
	return err
}
