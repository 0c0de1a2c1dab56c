package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 VaultGuard 在启动阶段需要加载的全部配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	LLM     LLMConfig     `json:"llm"`
	Agent   AgentConfig   `json:"agent"`
	Web3    Web3Config    `json:"web3"`
	Vault   VaultConfig   `json:"vault"`
	Notify  NotifyConfig  `json:"notify"`
	Logging LoggingConfig `json:"logging"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与管理口令。
type ServerConfig struct {
	Address                string `json:"address"`
	AdminTokenEnv          string `json:"admin_token_env"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`

	// AdminToken 从 AdminTokenEnv 指定的环境变量读取，为空时管理接口全部拒绝。
	AdminToken string `json:"-"`
}

// StorageConfig 描述持久化驱动。driver 支持 memory、mysql、sqlite。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	DSNEnv                 string `json:"dsn_env"`
	SeedFile               string `json:"seed_file"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// ConnMaxLifetime 返回连接最大存活时间。
func (s StorageConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(s.ConnMaxLifetimeSeconds) * time.Second
}

// LLMConfig 用于配置大模型推理服务。
type LLMConfig struct {
	Provider       string           `json:"provider"`
	BaseURL        string           `json:"base_url"`
	APIKeyEnv      string           `json:"api_key_env"`
	Model          string           `json:"model"`
	TimeoutSeconds int              `json:"timeout_seconds"`
	Pricing        map[string]Price `json:"pricing"`

	APIKey string `json:"-"`
}

// Price 是每千 token 的单价，单位美元。
type Price struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

// AgentConfig 描述守护智能体的行为参数。
type AgentConfig struct {
	PromptDir            string   `json:"prompt_dir"`
	PrimaryModel         string   `json:"primary_model"`
	SecondaryModel       string   `json:"secondary_model"`
	PrimaryTemperature   *float64 `json:"primary_temperature"`
	SecondaryTemperature *float64 `json:"secondary_temperature"`
	MaxToolRounds        int      `json:"max_tool_rounds"`
	RewardMessage        string   `json:"reward_message"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	ChainConfig       string `json:"chain_config"`
	DefaultChain      string `json:"default_chain"`
	RPCURL            string `json:"rpc_url"`
	ChainID           int64  `json:"chain_id"`
	ContractCacheSize int    `json:"contract_cache_size"`
}

// VaultConfig 控制金库合约的管理操作。
type VaultConfig struct {
	PrivateKeyEnv          string `json:"private_key_env"`
	TxTimeoutSeconds       int    `json:"tx_timeout_seconds"`
	ExpirationCheckSeconds int    `json:"expiration_check_seconds"`
	AutoDistribute         bool   `json:"auto_distribute"`

	PrivateKey string `json:"-"`
}

// NotifyConfig 描述破解事件的通知渠道。
type NotifyConfig struct {
	Webhooks       []string    `json:"webhooks"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	Queue          QueueConfig `json:"queue"`
}

// QueueConfig 决定通知是否经由异步队列投递。driver 支持 none、memory、redis、rabbitmq。
type QueueConfig struct {
	Driver        string `json:"driver"`
	Workers       int    `json:"workers"`
	BufferSize    int    `json:"buffer_size"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisKey      string `json:"redis_key"`
	RabbitURL     string `json:"rabbitmq_url"`
	RabbitQueue   string `json:"rabbitmq_queue"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveSecrets()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}
	if c.Server.AdminTokenEnv == "" {
		c.Server.AdminTokenEnv = "VAULTGUARD_ADMIN_TOKEN"
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	c.Storage.SeedFile = resolvePath(baseDir, c.Storage.SeedFile)

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Agent.PromptDir == "" {
		c.Agent.PromptDir = filepath.Join(baseDir, "prompts")
	} else {
		c.Agent.PromptDir = resolvePath(baseDir, c.Agent.PromptDir)
	}
	if c.Agent.PrimaryModel == "" {
		c.Agent.PrimaryModel = c.LLM.Model
	}
	if c.Agent.SecondaryModel == "" {
		c.Agent.SecondaryModel = c.Agent.PrimaryModel
	}
	if c.Agent.PrimaryTemperature == nil {
		c.Agent.PrimaryTemperature = float64Ptr(0.7)
	}
	if c.Agent.SecondaryTemperature == nil {
		c.Agent.SecondaryTemperature = float64Ptr(0)
	}
	if c.Agent.MaxToolRounds <= 0 {
		c.Agent.MaxToolRounds = 3
	}

	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)
	if c.Web3.ContractCacheSize <= 0 {
		c.Web3.ContractCacheSize = 3
	}

	if c.Vault.PrivateKeyEnv == "" {
		c.Vault.PrivateKeyEnv = "VAULT_OWNER_PRIVATE_KEY"
	}
	if c.Vault.TxTimeoutSeconds <= 0 {
		c.Vault.TxTimeoutSeconds = 120
	}
	if c.Vault.ExpirationCheckSeconds <= 0 {
		c.Vault.ExpirationCheckSeconds = 60
	}

	if c.Notify.TimeoutSeconds <= 0 {
		c.Notify.TimeoutSeconds = 10
	}
	c.Notify.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Notify.Queue.Driver))
	if c.Notify.Queue.Driver == "" {
		c.Notify.Queue.Driver = "memory"
	}
	if c.Notify.Queue.Workers <= 0 {
		c.Notify.Queue.Workers = 2
	}
	if c.Notify.Queue.BufferSize <= 0 {
		c.Notify.Queue.BufferSize = 64
	}
	if c.Notify.Queue.RedisKey == "" {
		c.Notify.Queue.RedisKey = "vaultguard:notifications"
	}
	if c.Notify.Queue.RabbitQueue == "" {
		c.Notify.Queue.RabbitQueue = "vaultguard.notifications"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "audit.log"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, c.Logging.Audit.Path)
	}
}

// resolveSecrets 从环境变量中读取敏感配置。
func (c *Config) resolveSecrets() {
	c.Server.AdminToken = strings.TrimSpace(os.Getenv(c.Server.AdminTokenEnv))
	c.LLM.APIKey = strings.TrimSpace(os.Getenv(c.LLM.APIKeyEnv))
	c.Vault.PrivateKey = strings.TrimSpace(os.Getenv(c.Vault.PrivateKeyEnv))
	if c.Storage.DSNEnv != "" {
		if dsn := strings.TrimSpace(os.Getenv(c.Storage.DSNEnv)); dsn != "" {
			c.Storage.DSN = dsn
		}
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql", "sqlite":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("存储驱动 %s 需要配置 dsn 或 dsn_env", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}
	switch c.Notify.Queue.Driver {
	case "none", "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("不支持的通知队列驱动: %s", c.Notify.Queue.Driver)
	}
	return nil
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func float64Ptr(v float64) *float64 {
	return &v
}
