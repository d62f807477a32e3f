package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tpool/internal/logger"
	"tpool/internal/server"
)

const (
	DefaultPoolSize  = 4
	DefaultAdminAddr = "127.0.0.1:9090"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Pool   PoolConfig   `yaml:"pool" json:"pool"`
	Admin  AdminConfig  `yaml:"admin" json:"admin"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// ServerConfig は接続サーバーの設定
type ServerConfig struct {
	Addr        string `yaml:"addr" json:"addr"`
	MaxConns    int    `yaml:"max_conns" json:"max_conns"`
	ReadTimeout string `yaml:"read_timeout" json:"read_timeout"`
	SleepDelay  string `yaml:"sleep_delay" json:"sleep_delay"`
}

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	Size int `yaml:"size" json:"size"`
}

// AdminConfig は管理APIの設定
type AdminConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Runtime は検証・変換済みの実行時設定
type Runtime struct {
	Server       server.Config
	PoolSize     int
	AdminEnabled bool
	AdminAddr    string
	LogLevel     logger.Level
}

// Default はデフォルトの実行時設定を返す
func Default() Runtime {
	return Runtime{
		Server:       server.DefaultConfig(),
		PoolSize:     DefaultPoolSize,
		AdminEnabled: true,
		AdminAddr:    DefaultAdminAddr,
		LogLevel:     logger.LevelInfo,
	}
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Pool.Size < 0 {
		return fmt.Errorf("pool.size must be non-negative")
	}

	if f.Server.MaxConns < 0 {
		return fmt.Errorf("server.max_conns must be non-negative")
	}

	if f.Server.Addr != "" {
		if _, _, err := net.SplitHostPort(f.Server.Addr); err != nil {
			return fmt.Errorf("server.addr is invalid: %w", err)
		}
	}

	if f.Admin.Addr != "" {
		if _, _, err := net.SplitHostPort(f.Admin.Addr); err != nil {
			return fmt.Errorf("admin.addr is invalid: %w", err)
		}
	}

	if _, err := logger.ParseLevel(f.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

// ToRuntime はFileConfigをRuntimeに変換する。未指定の項目はデフォルトのまま
func (f *FileConfig) ToRuntime() (Runtime, error) {
	rt := Default()

	if f.Server.Addr != "" {
		rt.Server.Addr = f.Server.Addr
	}
	if f.Server.MaxConns > 0 {
		rt.Server.MaxConns = f.Server.MaxConns
	}
	if f.Server.ReadTimeout != "" {
		d, err := time.ParseDuration(f.Server.ReadTimeout)
		if err != nil {
			return rt, fmt.Errorf("invalid read_timeout: %w", err)
		}
		rt.Server.ReadTimeout = d
	}
	if f.Server.SleepDelay != "" {
		d, err := time.ParseDuration(f.Server.SleepDelay)
		if err != nil {
			return rt, fmt.Errorf("invalid sleep_delay: %w", err)
		}
		rt.Server.SleepDelay = d
	}

	if f.Pool.Size > 0 {
		rt.PoolSize = f.Pool.Size
	}

	if f.Admin.Enabled != nil {
		rt.AdminEnabled = *f.Admin.Enabled
	}
	if f.Admin.Addr != "" {
		rt.AdminAddr = f.Admin.Addr
	}

	level, err := logger.ParseLevel(f.Log.Level)
	if err != nil {
		return rt, err
	}
	rt.LogLevel = level

	return rt, nil
}

// Load はファイルを読み込み、検証して Runtime に変換する
func Load(path string) (Runtime, error) {
	fc, err := LoadFile(path)
	if err != nil {
		return Default(), err
	}
	if err := fc.Validate(); err != nil {
		return Default(), fmt.Errorf("invalid config: %w", err)
	}
	return fc.ToRuntime()
}
