package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values come from an optional
// YAML file first, then environment variables override (PIPELINE_ prefix).
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	OCR      OCRConfig      `yaml:"ocr"`
	AI       AIConfig       `yaml:"ai"`
	Quota    QuotaConfig    `yaml:"quota"`
	Fraud    FraudConfig    `yaml:"fraud"`
	Tax      TaxConfig      `yaml:"tax"`
}

type ServerConfig struct {
	Host string `yaml:"host" envconfig:"HOST"`
	Port int    `yaml:"port" envconfig:"PORT"`
}

type DatabaseConfig struct {
	URL string `yaml:"url" envconfig:"DATABASE_URL"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" envconfig:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"accessKey" envconfig:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" envconfig:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"MINIO_BUCKET"`
	UseSSL    bool   `yaml:"useSSL" envconfig:"MINIO_USE_SSL"`
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwtSecret" envconfig:"JWT_SECRET"`
	ServiceKey string `yaml:"serviceKey" envconfig:"SERVICE_KEY"`
}

type OCRConfig struct {
	TesseractBinary string   `yaml:"tesseractBinary" envconfig:"TESSERACT_BINARY"`
	Language        string   `yaml:"language" envconfig:"OCR_LANGUAGE"`
	RetryLanguages  []string `yaml:"retryLanguages"`
	MinTextLength   int      `yaml:"minTextLength"`
	MinConfidence   float64  `yaml:"minConfidence"`
	RetryConfidence float64  `yaml:"retryConfidence"`
	RemoteAPIKey    string   `yaml:"remoteAPIKey" envconfig:"OCR_REMOTE_API_KEY"`
	RemoteEndpoint  string   `yaml:"remoteEndpoint" envconfig:"OCR_REMOTE_ENDPOINT"`
	TimeoutSeconds  int      `yaml:"timeoutSeconds"`
}

type AIConfig struct {
	Providers      []ProviderConfig `yaml:"providers"`
	TimeoutSeconds int              `yaml:"timeoutSeconds"`
	Categories     []string         `yaml:"categories"`
}

// ProviderConfig describes one AI provider slot. A provider without an API
// key (Ollama excepted, which needs only a base URL) is disabled.
type ProviderConfig struct {
	Name       string  `yaml:"name"`
	APIKey     string  `yaml:"apiKey"`
	BaseURL    string  `yaml:"baseURL"`
	Model      string  `yaml:"model"`
	Priority   int     `yaml:"priority"`
	DailyQuota int64   `yaml:"dailyQuota"`
	UnitCost   float64 `yaml:"unitCost"`
}

type QuotaConfig struct {
	DailyFreeTokens int64            `yaml:"dailyFreeTokens"`
	StageCosts      map[string]int64 `yaml:"stageCosts"`
}

type FraudConfig struct {
	HighAmountThreshold float64 `yaml:"highAmountThreshold"`
	DeviationMultiplier float64 `yaml:"deviationMultiplier"`
	DuplicateWindowDays int     `yaml:"duplicateWindowDays"`
	StaleAfterDays      int     `yaml:"staleAfterDays"`
	HistoryLimit        int     `yaml:"historyLimit"`
}

type TaxConfig struct {
	DefaultRegion string `yaml:"defaultRegion"`
}

// DefaultStageCosts is the per-stage token price applied when the config
// file does not override it.
var DefaultStageCosts = map[string]int64{
	"ingestion":       1,
	"ocr":             2,
	"classification":  2,
	"fraud_detection": 1,
	"tax_compliance":  1,
	"reporting":       1,
}

// DefaultRetryLanguages is the ordered language-set ladder for the OCR
// multi-language retry pass.
var DefaultRetryLanguages = []string{"eng", "eng+spa", "eng+fra+deu", "eng+spa+por"}

// Load reads the YAML file at path (missing file is not an error) and then
// applies environment overrides. Defaults fill whatever neither source set:
// envconfig's own default tags would clobber file values, so defaults live
// in applyDefaults instead.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("pipeline", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Storage.Endpoint == "" {
		c.Storage.Endpoint = "localhost:9000"
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "invoices"
	}
	if c.OCR.TesseractBinary == "" {
		c.OCR.TesseractBinary = "tesseract"
	}
	if c.OCR.Language == "" {
		c.OCR.Language = "eng"
	}
	if len(c.OCR.RetryLanguages) == 0 {
		c.OCR.RetryLanguages = DefaultRetryLanguages
	}
	if c.OCR.MinTextLength == 0 {
		c.OCR.MinTextLength = 15
	}
	if c.OCR.MinConfidence == 0 {
		c.OCR.MinConfidence = 0.75
	}
	if c.OCR.RetryConfidence == 0 {
		c.OCR.RetryConfidence = 0.60
	}
	if c.OCR.RemoteEndpoint == "" {
		c.OCR.RemoteEndpoint = "https://api.ocr.space/parse/image"
	}
	if c.OCR.TimeoutSeconds == 0 {
		c.OCR.TimeoutSeconds = 60
	}
	if c.AI.TimeoutSeconds == 0 {
		c.AI.TimeoutSeconds = 45
	}
	if len(c.AI.Categories) == 0 {
		c.AI.Categories = []string{
			"utilities", "office_supplies", "travel", "meals",
			"professional_services", "software", "hardware", "rent", "other",
		}
	}
	if c.Quota.DailyFreeTokens == 0 {
		c.Quota.DailyFreeTokens = 100
	}
	if c.Quota.StageCosts == nil {
		c.Quota.StageCosts = make(map[string]int64, len(DefaultStageCosts))
	}
	for stage, cost := range DefaultStageCosts {
		if _, ok := c.Quota.StageCosts[stage]; !ok {
			c.Quota.StageCosts[stage] = cost
		}
	}
	if c.Fraud.HighAmountThreshold == 0 {
		c.Fraud.HighAmountThreshold = 10000
	}
	if c.Fraud.DeviationMultiplier == 0 {
		c.Fraud.DeviationMultiplier = 2
	}
	if c.Fraud.DuplicateWindowDays == 0 {
		c.Fraud.DuplicateWindowDays = 7
	}
	if c.Fraud.StaleAfterDays == 0 {
		c.Fraud.StaleAfterDays = 90
	}
	if c.Fraud.HistoryLimit == 0 {
		c.Fraud.HistoryLimit = 100
	}
	if c.Tax.DefaultRegion == "" {
		c.Tax.DefaultRegion = "US"
	}
}

// StageCost returns the token price for a stage, defaulting to 1 for
// unknown stage names so a misconfigured stage never runs for free.
func (c *Config) StageCost(stage string) int64 {
	if cost, ok := c.Quota.StageCosts[stage]; ok {
		return cost
	}
	return 1
}
