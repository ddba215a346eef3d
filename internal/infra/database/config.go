package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Config SQLite 数据库配置
type Config struct {
	// DBPath 数据库文件路径
	DBPath string `yaml:"db_path"` // e.g., "./data/journal.db"

	// MaxOpenConns 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns"` // default: 1

	// BusyTimeoutMs 数据库被锁定时的等待时间（毫秒）
	BusyTimeoutMs int `yaml:"busy_timeout_ms"` // default: 5000
}

// ApplyDefaults 为配置项设置默认值，name 为 dataDir 下的默认文件名
func (c *Config) ApplyDefaults(dataDir, name string) {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(dataDir, name)
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 1
	}
	if c.BusyTimeoutMs == 0 {
		c.BusyTimeoutMs = 5000
	}
}

// DSN 返回 go-sqlite3 连接串
func (c Config) DSN() string {
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", c.DBPath, c.BusyTimeoutMs)
}

// Open 创建数据库目录并打开连接
func Open(c Config) (*sql.DB, error) {
	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(c.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
