// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Tika       TikaConfig       `mapstructure:"tika"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Translator TranslatorConfig `mapstructure:"translator"`
	Dedupe     DedupeConfig     `mapstructure:"dedupe"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Index      IndexConfig      `mapstructure:"index"`
	Chat       ChatConfig       `mapstructure:"chat"`
	JWT        JWTConfig        `mapstructure:"jwt"`
}

// ServerConfig 存储 HTTP 服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// SourceConfig 描述一个待爬取的知识来源站点。
type SourceConfig struct {
	ID                string  `mapstructure:"id"`
	URL               string  `mapstructure:"url"`
	Type              string  `mapstructure:"type"` // wikipedia / wiki / news / community
	Language          string  `mapstructure:"language"`
	Enabled           bool    `mapstructure:"enabled"`
	MaxPages          int     `mapstructure:"max_pages"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CrawlerConfig 存储爬虫相关的配置。
type CrawlerConfig struct {
	Sources          []SourceConfig `mapstructure:"sources"`
	Workers          int            `mapstructure:"workers"`
	FetchTimeoutSecs int            `mapstructure:"fetch_timeout_secs"`
	UserAgent        string         `mapstructure:"user_agent"`
}

// TranslatorConfig 存储翻译归一化相关的配置。
type TranslatorConfig struct {
	TargetLanguage     string   `mapstructure:"target_language"`
	SupportedLanguages []string `mapstructure:"supported_languages"`
	// KeepOriginalOnFailure 为 true 时，翻译失败保留原文而不是丢弃文档。
	KeepOriginalOnFailure bool `mapstructure:"keep_original_on_failure"`
}

// DedupeConfig 存储去重策略相关的配置。
type DedupeConfig struct {
	// SimilarityThreshold 是近重复判定的 Jaccard 相似度阈值，低于该值的文档始终保留。
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKeyEnv   string `mapstructure:"api_key_env"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	Dimensions  int    `mapstructure:"dimensions"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider       string              `mapstructure:"provider"` // openai / zhipu
	Model          string              `mapstructure:"model"`
	BaseURL        string              `mapstructure:"base_url"`
	APIKeyEnv      string              `mapstructure:"api_key_env"`
	TimeoutSecs    int                 `mapstructure:"timeout_secs"`
	MaxRetries     int                 `mapstructure:"max_retries"`
	RetryBackoffMS int                 `mapstructure:"retry_backoff_ms"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Prompt         LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// IndexConfig 存储向量索引相关的配置。
type IndexConfig struct {
	Backend      string  `mapstructure:"backend"` // flat / es
	Dir          string  `mapstructure:"dir"`
	TopK         int     `mapstructure:"top_k"`
	MinScore     float64 `mapstructure:"min_score"`
	ChunkSize    int     `mapstructure:"chunk_size"`
	ChunkOverlap int     `mapstructure:"chunk_overlap"`

	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// ElasticsearchConfig 存储 Elasticsearch 后端相关的配置。
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
	Alias       string `mapstructure:"alias"`
}

// ChatConfig 存储问答链与对话历史相关的配置。
type ChatConfig struct {
	// HistoryLimit 是每个会话在 Redis 中保留的最大消息条数。
	HistoryLimit int `mapstructure:"history_limit"`
	// RewriteTurns 是查询改写时参考的最近对话轮数。
	RewriteTurns int `mapstructure:"rewrite_turns"`
}

// JWTConfig 存储 WebSocket 会话令牌相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	SessionTokenExpireMins int    `mapstructure:"session_token_expire_mins"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 同时加载 .env 文件中的凭据（若存在）。
func Init(configPath string) {
	// .env 不存在不算错误，凭据也可以直接来自进程环境
	_ = godotenv.Load()

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 0 对这两项是合法配置值（不设相似度下限、不重叠切分），
	// 不能用零值判断是否缺省, 默认值交给 viper
	viper.SetDefault("index.min_score", 0.25)
	viper.SetDefault("index.chunk_overlap", 150)

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults(&Conf)
}

// applyDefaults 为未设置的可调策略值填入默认值。
func applyDefaults(c *Config) {
	if c.Index.TopK == 0 {
		c.Index.TopK = 4
	}
	if c.Index.ChunkSize == 0 {
		c.Index.ChunkSize = 500
	}
	if c.Index.Backend == "" {
		c.Index.Backend = "flat"
	}
	if c.Dedupe.SimilarityThreshold == 0 {
		c.Dedupe.SimilarityThreshold = 0.90
	}
	if c.Translator.TargetLanguage == "" {
		c.Translator.TargetLanguage = "zh"
	}
	if len(c.Translator.SupportedLanguages) == 0 {
		c.Translator.SupportedLanguages = []string{"zh", "en", "ko"}
	}
	if c.Crawler.Workers == 0 {
		c.Crawler.Workers = 3
	}
	if c.Crawler.FetchTimeoutSecs == 0 {
		c.Crawler.FetchTimeoutSecs = 10
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RetryBackoffMS == 0 {
		c.LLM.RetryBackoffMS = 500
	}
	if c.LLM.TimeoutSecs == 0 {
		c.LLM.TimeoutSecs = 60
	}
	if c.Embedding.TimeoutSecs == 0 {
		c.Embedding.TimeoutSecs = 30
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 20
	}
	if c.Chat.RewriteTurns == 0 {
		c.Chat.RewriteTurns = 3
	}
	if c.JWT.SessionTokenExpireMins == 0 {
		c.JWT.SessionTokenExpireMins = 60
	}
}

// Validate 校验启动所需的凭据是否齐备。
// 当前激活的 LLM 提供商与 Embedding 服务缺少 API Key 属于启动期致命错误，
// 而不是查询期错误。
func Validate(c *Config) error {
	if c.LLM.Provider != "openai" && c.LLM.Provider != "zhipu" {
		return fmt.Errorf("不支持的模型提供商: %s", c.LLM.Provider)
	}
	if c.LLM.APIKeyEnv == "" || os.Getenv(c.LLM.APIKeyEnv) == "" {
		return fmt.Errorf("未设置 LLM 提供商 '%s' 的 API Key (环境变量 %s)", c.LLM.Provider, c.LLM.APIKeyEnv)
	}
	if c.Embedding.APIKeyEnv == "" || os.Getenv(c.Embedding.APIKeyEnv) == "" {
		return fmt.Errorf("未设置 Embedding 服务的 API Key (环境变量 %s)", c.Embedding.APIKeyEnv)
	}
	return nil
}
