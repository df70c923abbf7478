package config

import (
	"encoding/json"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DatabaseType 数据库类型
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// ProviderType 上游模型接口类型
type ProviderType string

const (
	ProviderTypeOpenAI          ProviderType = "openai"
	ProviderTypeOpenAIResponses ProviderType = "openai_responses"
	ProviderTypeAnthropic       ProviderType = "anthropic"
)

// StorageType 摘要缓存存储类型
type StorageType string

const (
	StorageTypeMemory   StorageType = "memory"
	StorageTypeFile     StorageType = "file"
	StorageTypeDatabase StorageType = "database"
)

// SQLiteConfig SQLite 数据库配置
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// MySQLConfig MySQL 数据库配置
type MySQLConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
	Charset  string `yaml:"charset" json:"charset"`
}

// PostgresConfig PostgreSQL 数据库配置
type PostgresConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type     DatabaseType   `yaml:"type" json:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite" json:"sqlite"`
	MySQL    MySQLConfig    `yaml:"mysql" json:"mysql"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
	// 每个客户端 IP 每分钟的请求上限，0 表示不限制
	RateLimitRPM int `yaml:"rate_limit_rpm" json:"rate_limit_rpm"`
}

// ProviderConfig 上游模型提供方配置
type ProviderConfig struct {
	ID              string                 `yaml:"id" json:"id"`
	Type            ProviderType           `yaml:"type" json:"type"`
	BaseURL         string                 `yaml:"base_url" json:"base_url"`
	APIKey          string                 `yaml:"api_key" json:"api_key"`
	Model           string                 `yaml:"model" json:"model"`
	HTTPProxy       string                 `yaml:"http_proxy" json:"http_proxy"`
	Headers         map[string]string      `yaml:"headers" json:"headers"`
	RequestDefaults map[string]interface{} `yaml:"request_defaults" json:"request_defaults"`
}

// AbridgedHistoryParams 节选历史的字符上限
type AbridgedHistoryParams struct {
	TotalCharsLimit         int `yaml:"total_chars_limit" json:"total_chars_limit"`
	UserMessageCharsLimit   int `yaml:"user_message_chars_limit" json:"user_message_chars_limit"`
	AgentResponseCharsLimit int `yaml:"agent_response_chars_limit" json:"agent_response_chars_limit"`
	ActionCharsLimit        int `yaml:"action_chars_limit" json:"action_chars_limit"`
	NumFilesModifiedLimit   int `yaml:"num_files_modified_limit" json:"num_files_modified_limit"`
}

// HistorySummaryConfig 历史摘要配置（原始值，由 historysummary.ResolveConfig 统一规整）
type HistorySummaryConfig struct {
	Enabled                           bool                  `yaml:"enabled" json:"enabled"`
	ProviderID                        string                `yaml:"provider_id" json:"provider_id"`
	Model                             string                `yaml:"model" json:"model"`
	Prompt                            string                `yaml:"prompt" json:"prompt"`
	MaxTokens                         int                   `yaml:"max_tokens" json:"max_tokens"`
	TimeoutSeconds                    int                   `yaml:"timeout_seconds" json:"timeout_seconds"`
	TriggerStrategy                   string                `yaml:"trigger_strategy" json:"trigger_strategy"`
	TriggerOnHistorySizeChars         int                   `yaml:"trigger_on_history_size_chars" json:"trigger_on_history_size_chars"`
	HistoryTailSizeCharsToExclude     int                   `yaml:"history_tail_size_chars_to_exclude" json:"history_tail_size_chars_to_exclude"`
	TriggerOnContextRatio             *float64              `yaml:"trigger_on_context_ratio" json:"trigger_on_context_ratio,omitempty"`
	TargetContextRatio                *float64              `yaml:"target_context_ratio" json:"target_context_ratio,omitempty"`
	MinTailExchanges                  int                   `yaml:"min_tail_exchanges" json:"min_tail_exchanges"`
	CacheTTLMs                        int64                 `yaml:"cache_ttl_ms" json:"cache_ttl_ms"`
	MaxSummarizationInputChars        int                   `yaml:"max_summarization_input_chars" json:"max_summarization_input_chars"`
	RollingSummary                    bool                  `yaml:"rolling_summary" json:"rolling_summary"`
	ContextWindowTokensOverrides      map[string]int        `yaml:"context_window_tokens_overrides" json:"context_window_tokens_overrides"`
	SummaryNodeRequestMessageTemplate string                `yaml:"summary_node_request_message_template" json:"summary_node_request_message_template"`
	AbridgedHistoryParams             AbridgedHistoryParams `yaml:"abridged_history_params" json:"abridged_history_params"`
}

// HistorySummaryStorageConfig 摘要缓存存储配置
type HistorySummaryStorageConfig struct {
	Type                      StorageType `yaml:"type" json:"type"`
	Dir                       string      `yaml:"dir" json:"dir"`
	MaxEntriesPerConversation int         `yaml:"max_entries_per_conversation" json:"max_entries_per_conversation"`
}

// Config 应用配置
type Config struct {
	Server                ServerConfig                `yaml:"server" json:"server"`
	Database              DatabaseConfig              `yaml:"database" json:"database"`
	APIKey                string                      `yaml:"api_key" json:"api_key"`
	LogDir                string                      `yaml:"log_dir" json:"log_dir"`
	Providers             []ProviderConfig            `yaml:"providers" json:"providers"`
	HistorySummary        HistorySummaryConfig        `yaml:"history_summary" json:"history_summary"`
	HistorySummaryStorage HistorySummaryStorageConfig `yaml:"history_summary_storage" json:"history_summary_storage"`

	// 调试模式
	Debug bool `yaml:"debug" json:"debug"`
}

// Load 返回默认配置
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 62311,
		},
		Database: DatabaseConfig{
			Type: DatabaseTypeSQLite,
			SQLite: SQLiteConfig{
				Path: "data.sqlite3",
			},
			MySQL: MySQLConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "",
				Database: "byok-api",
				Charset:  "utf8mb4",
			},
		},
		LogDir:    "logs",
		Providers: []ProviderConfig{},
		HistorySummary: HistorySummaryConfig{
			Enabled:                       false,
			MaxTokens:                     1024,
			TimeoutSeconds:                60,
			TriggerStrategy:               "auto",
			TriggerOnHistorySizeChars:     800000,
			HistoryTailSizeCharsToExclude: 250000,
			MinTailExchanges:              2,
			CacheTTLMs:                    0,
			MaxSummarizationInputChars:    0,
			RollingSummary:                true,
			ContextWindowTokensOverrides:  map[string]int{},
			AbridgedHistoryParams: AbridgedHistoryParams{
				TotalCharsLimit:         10000,
				UserMessageCharsLimit:   1000,
				AgentResponseCharsLimit: 2000,
				ActionCharsLimit:        200,
				NumFilesModifiedLimit:   10,
			},
		},
		HistorySummaryStorage: HistorySummaryStorageConfig{
			Type:                      StorageTypeMemory,
			Dir:                       "summary_cache",
			MaxEntriesPerConversation: 8,
		},
		Debug: false,
	}
}

// PickProviderByID 按 ID 查找提供方，找不到时返回 nil
func (c *Config) PickProviderByID(id string) *ProviderConfig {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i]
		}
	}
	return nil
}

// expandEnv 展开提供方配置中的 ${ENV} 引用
func (c *Config) expandEnv() {
	for i := range c.Providers {
		p := &c.Providers[i]
		p.APIKey = os.ExpandEnv(p.APIKey)
		p.BaseURL = os.ExpandEnv(p.BaseURL)
		p.HTTPProxy = os.ExpandEnv(p.HTTPProxy)
	}
	c.APIKey = os.ExpandEnv(c.APIKey)
	c.Database.Postgres.DSN = os.ExpandEnv(c.Database.Postgres.DSN)
	c.Database.MySQL.Password = os.ExpandEnv(c.Database.MySQL.Password)
}

// LoadFromYAML 从 YAML 配置文件加载配置，未出现的字段保留默认值
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Load()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.expandEnv()
	return cfg, nil
}

// LoadFromJSON 从 JSON 配置文件加载配置
func LoadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Load()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.expandEnv()
	return cfg, nil
}

// LoadPath 按扩展名加载指定配置文件
func LoadPath(path string) (*Config, error) {
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return LoadFromJSON(path)
	}
	return LoadFromYAML(path)
}

// ResolvePath 返回当前目录下存在的配置文件路径（优先 YAML，兼容 JSON）
func ResolvePath() string {
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// LoadConfig 智能加载配置文件，无配置文件时返回默认值
func LoadConfig() (*Config, error) {
	path := ResolvePath()
	if path == "" {
		cfg := Load()
		cfg.expandEnv()
		return cfg, nil
	}
	return LoadPath(path)
}
