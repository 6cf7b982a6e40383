package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig
	SQLite        SQLiteConfig
	Redis         RedisConfig
	Vector        VectorConfig
	LLM           LLMConfig
	Transcription TranscriptionConfig
	Evaluation    EvaluationConfig
	RateLimit     RateLimitConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Password   string
	DB         int
	TTLMinutes int
}

type VectorConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	TopK           int
}

type LLMConfig struct {
	APIKey          string
	BaseURL         string
	EvaluationModel string
	SummaryModel    string
	QuestionModel   string
	EmbeddingModel  string
	Temperature     float32
	MaxTokens       int
	SummaryTokens   int
	TimeoutSec      int
}

type TranscriptionConfig struct {
	Model         string
	Language      string
	MaxAudioBytes int64
	TempDir       string
	TimeoutSec    int
}

type EvaluationConfig struct {
	TimeoutSec int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c EvaluationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pitch-perfect")

	return load(v)
}

// LoadFile reads configuration from an explicit path, still honouring env overrides.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("PITCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.LLM.EvaluationModel == "" || c.LLM.SummaryModel == "" {
		return errors.New("llm.evaluationModel and llm.summaryModel are required")
	}
	if c.Evaluation.TimeoutSec <= 0 {
		return fmt.Errorf("evaluation.timeoutSec must be positive, got %d", c.Evaluation.TimeoutSec)
	}
	if c.Transcription.MaxAudioBytes <= 0 {
		return fmt.Errorf("transcription.maxAudioBytes must be positive, got %d", c.Transcription.MaxAudioBytes)
	}
	if c.Vector.Enabled && c.Vector.VectorDim <= 0 {
		return fmt.Errorf("vector.vectorDim must be positive when vector search is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 60)
	v.SetDefault("server.writeTimeout", 360)
	v.SetDefault("server.bodyLimit", 30*1024*1024)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/pitches.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlMinutes", 24*60)

	v.SetDefault("vector.enabled", false)
	v.SetDefault("vector.endpoint", "localhost:19530")
	v.SetDefault("vector.apiKey", "")
	v.SetDefault("vector.collectionName", "pitches")
	v.SetDefault("vector.vectorDim", 1536)
	v.SetDefault("vector.topK", 10)

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.evaluationModel", "gpt-4o")
	v.SetDefault("llm.summaryModel", "gpt-4o-mini")
	v.SetDefault("llm.questionModel", "gpt-4o-mini")
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.maxTokens", 1000)
	v.SetDefault("llm.summaryTokens", 500)
	v.SetDefault("llm.timeoutSec", 90)

	v.SetDefault("transcription.model", "whisper-1")
	v.SetDefault("transcription.language", "en")
	v.SetDefault("transcription.maxAudioBytes", 25*1024*1024)
	v.SetDefault("transcription.tempDir", "")
	v.SetDefault("transcription.timeoutSec", 180)

	v.SetDefault("evaluation.timeoutSec", 300)

	v.SetDefault("rateLimit.requestsPerMinute", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
