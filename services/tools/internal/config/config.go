package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridden by CONFIG_PATH.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	DatabaseURL       string   `yaml:"databaseURL"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	AuthJWKSURL string `yaml:"authJwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	// AuthorizedParties are the frontend origins accepted in a token's azp claim.
	AuthorizedParties []string `yaml:"authorizedParties"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	OpenAIAPIKey    string `yaml:"openaiAPIKey"`
	OpenAIBaseURL   string `yaml:"openaiBaseURL"`
	ChatModel       string `yaml:"chatModel"`
	GenerationModel string `yaml:"generationModel"`
	TitleModel      string `yaml:"titleModel"`
	MaxToolSteps    int    `yaml:"maxToolSteps"`

	MaxMessagesPerDay    int   `yaml:"maxMessagesPerDay"`
	MaxDocumentsPerEntry int   `yaml:"maxDocumentsPerEntry"`
	MaxUploadBytes       int64 `yaml:"maxUploadBytes"`

	GenerateRateLimitPerMinute int `yaml:"generateRateLimitPerMinute"`
	ImageRateLimitPerMinute    int `yaml:"imageRateLimitPerMinute"`
	SearchRateLimitPerMinute   int `yaml:"searchRateLimitPerMinute"`
	ContactRateLimitPerMinute  int `yaml:"contactRateLimitPerMinute"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	PlacidAPIToken   string `yaml:"placidAPIToken"`
	PlacidBaseURL    string `yaml:"placidBaseURL"`
	RenderPollerSize int    `yaml:"renderPollers"`

	Stands4UID     string `yaml:"stands4UID"`
	Stands4TokenID string `yaml:"stands4TokenID"`
	BibleAPIKey    string `yaml:"bibleAPIKey"`
	SearchCacheTTL string `yaml:"searchCacheTTL"`

	AMQPURL      string `yaml:"amqpURL"`
	ContactQueue string `yaml:"contactQueue"`
}

// PathFromEnv returns CONFIG_PATH or the default.
func PathFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("CONFIG_PATH")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml), applies environment
// overrides and defaults, then validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	str := map[string]*string{
		"PORT":             &cfg.Port,
		"LOG_LEVEL":        &cfg.LogLevel,
		"DATABASE_URL":     &cfg.DatabaseURL,
		"AUTH_JWKS_URL":    &cfg.AuthJWKSURL,
		"JWT_ISSUER":       &cfg.JWTIssuer,
		"JWT_AUDIENCE":     &cfg.JWTAudience,
		"JWT_LEEWAY":       &cfg.JWTLeeway,
		"REDIS_ADDR":       &cfg.RedisAddr,
		"REDIS_PASSWORD":   &cfg.RedisPassword,
		"OPENAI_API_KEY":   &cfg.OpenAIAPIKey,
		"OPENAI_BASE_URL":  &cfg.OpenAIBaseURL,
		"CHAT_MODEL":       &cfg.ChatModel,
		"GENERATION_MODEL": &cfg.GenerationModel,
		"TITLE_MODEL":      &cfg.TitleModel,
		"MINIO_ENDPOINT":   &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY": &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY": &cfg.MinioSecretKey,
		"MINIO_BUCKET":     &cfg.MinioBucket,
		"PLACID_API_TOKEN": &cfg.PlacidAPIToken,
		"PLACID_BASE_URL":  &cfg.PlacidBaseURL,
		"STANDS4_UID":      &cfg.Stands4UID,
		"STANDS4_TOKENID":  &cfg.Stands4TokenID,
		"BIBLE_API_KEY":    &cfg.BibleAPIKey,
		"SEARCH_CACHE_TTL": &cfg.SearchCacheTTL,
		"AMQP_URL":         &cfg.AMQPURL,
		"CONTACT_QUEUE":    &cfg.ContactQueue,
	}
	for key, dst := range str {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"MAX_MESSAGES_PER_DAY":           &cfg.MaxMessagesPerDay,
		"MAX_DOCUMENTS_PER_ENTRY":        &cfg.MaxDocumentsPerEntry,
		"MAX_TOOL_STEPS":                 &cfg.MaxToolSteps,
		"GENERATE_RATE_LIMIT_PER_MINUTE": &cfg.GenerateRateLimitPerMinute,
		"IMAGE_RATE_LIMIT_PER_MINUTE":    &cfg.ImageRateLimitPerMinute,
		"SEARCH_RATE_LIMIT_PER_MINUTE":   &cfg.SearchRateLimitPerMinute,
		"CONTACT_RATE_LIMIT_PER_MINUTE":  &cfg.ContactRateLimitPerMinute,
		"RENDER_POLLERS":                 &cfg.RenderPollerSize,
	}
	for key, dst := range ints {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_UPLOAD_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MINIO_USE_SSL")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("AUTH_AUTHORIZED_PARTIES"); v != "" {
		cfg.AuthorizedParties = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxMessagesPerDay == 0 {
		cfg.MaxMessagesPerDay = 10
	}
	if cfg.MaxDocumentsPerEntry == 0 {
		cfg.MaxDocumentsPerEntry = 5
	}
	if cfg.MaxToolSteps == 0 {
		cfg.MaxToolSteps = 5
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = cfg.ChatModel
	}
	if cfg.TitleModel == "" {
		cfg.TitleModel = cfg.ChatModel
	}
	if cfg.GenerateRateLimitPerMinute == 0 {
		cfg.GenerateRateLimitPerMinute = 10
	}
	if cfg.ImageRateLimitPerMinute == 0 {
		cfg.ImageRateLimitPerMinute = 5
	}
	if cfg.SearchRateLimitPerMinute == 0 {
		cfg.SearchRateLimitPerMinute = 30
	}
	if cfg.ContactRateLimitPerMinute == 0 {
		cfg.ContactRateLimitPerMinute = 3
	}
	if cfg.RenderPollerSize == 0 {
		cfg.RenderPollerSize = 2
	}
	if cfg.SearchCacheTTL == "" {
		cfg.SearchCacheTTL = "1h"
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = "deathmatter"
	}
	if cfg.ContactQueue == "" {
		cfg.ContactQueue = "deathmatter.contact"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml or AUTH_JWKS_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting and caching")
	}
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		return errors.New("config: openaiAPIKey is required unless openaiBaseURL points at a keyless endpoint")
	}
	if cfg.ChatModel == "" {
		return errors.New("config: chatModel is required (set in config.yaml or CHAT_MODEL)")
	}
	if cfg.MaxMessagesPerDay < 0 || cfg.MaxDocumentsPerEntry < 0 || cfg.MaxToolSteps < 0 {
		return errors.New("config: message, document and tool-step limits must be >= 0")
	}
	if cfg.GenerateRateLimitPerMinute < 0 || cfg.ImageRateLimitPerMinute < 0 || cfg.SearchRateLimitPerMinute < 0 || cfg.ContactRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if (cfg.MinioAccessKey != "" || cfg.MinioSecretKey != "") && cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required when minio credentials are set")
	}
	if (cfg.Stands4UID == "") != (cfg.Stands4TokenID == "") {
		return errors.New("config: stands4UID and stands4TokenID must be set together")
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	if _, err := ParseCacheTTL(cfg.SearchCacheTTL); err != nil {
		return err
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}

// ParseCacheTTL parses the search cache TTL.
func ParseCacheTTL(ttl string) (time.Duration, error) {
	if ttl == "" {
		return time.Hour, nil
	}
	dur, err := time.ParseDuration(ttl)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("invalid searchCacheTTL %q", ttl)
	}
	return dur, nil
}
