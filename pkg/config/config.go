package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Milvus    MilvusConfig
	Redis     RedisConfig
	SQLite    SQLiteConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	Env          string
}

type MilvusConfig struct {
	Endpoint            string
	APIKey              string
	DiagnosisCollection string
	ProcedureCollection string
	SupplyCollection    string
	VectorDim           int
}

type RedisConfig struct {
	Host               string
	Port               int
	Password           string
	DB                 int
	ResponseCacheTTLHr int
}

type SQLiteConfig struct {
	Path string
}

type LLMConfig struct {
	APIKey          string
	ExtractionModel string
	CodingModel     string
	JudgeModel      string
	EmbeddingModel  string
	Temperature     float32
	MaxTokens       int
	TimeoutSec      int
}

type RetrievalConfig struct {
	TopK            int
	EmbedCacheTTLHr int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/medcode-agent")

	viper.SetEnvPrefix("MEDCODE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 120)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 10485760)
	viper.SetDefault("server.env", "production")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.diagnosisCollection", "icd10cm")
	viper.SetDefault("milvus.procedureCollection", "cpt4")
	viper.SetDefault("milvus.supplyCollection", "hcpcs_level2")
	viper.SetDefault("milvus.vectorDim", 1024)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.responseCacheTTLHr", 1)

	viper.SetDefault("sqlite.path", "./data/medcode.db")

	viper.SetDefault("llm.extractionModel", "gpt-4o-mini")
	viper.SetDefault("llm.codingModel", "gpt-4o")
	viper.SetDefault("llm.judgeModel", "gpt-4o")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.maxTokens", 4096)
	viper.SetDefault("llm.timeoutSec", 90)

	viper.SetDefault("retrieval.topK", 5)
	viper.SetDefault("retrieval.embedCacheTTLHr", 24)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
