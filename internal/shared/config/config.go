package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	LogLevel        string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	JobStore    string
	DatabaseURL string
	MongoURI    string
	MongoDB     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	QueueBackend string
	SQSQueueURL  string
	AMQPURL      string
	AMQPQueue    string

	WorkerConcurrency    int
	SQSVisibilityTimeout time.Duration
	ShutdownTimeout      time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	LLMModel      string

	TranslationMode     string
	PollInterval        time.Duration
	PollTimeout         time.Duration
	DirectRatePerMinute int
	DownloadURLTTL      time.Duration
	StatusPollWindow    time.Duration
	Progress            ProgressConfig
}

// ProgressConfig holds the progress checkpoints reported while a job runs.
type ProgressConfig struct {
	DirectStart    int
	DirectEnd      int
	BatchSubmitted int
	BatchMax       int
	Reconstructing int
}

// Load reads configuration from environment variables with sensible defaults.
// A local .env file is merged in when present.
func Load() Config {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	mergeEnvFiles(v, ".env", "cmd/.env")
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) Config {
	env := normalizeEnv(v.GetString("ENV"))
	dbURL := v.GetString("DATABASE_URL")
	if env == "production" && dbURL == "" && v.GetString("MONGO_URI") == "" {
		log.Printf("DATABASE_URL or MONGO_URI is required in production")
	}

	return Config{
		Port:            v.GetString("PORT"),
		CORSAllowOrigin: splitAndTrim(v.GetString("CORS_ALLOW_ORIGINS")),
		Env:             env,
		LogLevel:        v.GetString("LOG_LEVEL"),

		ObjectStoreType: normalizeStoreType(v.GetString("OBJECT_STORE")),
		LocalStoreDir:   v.GetString("LOCAL_STORE_DIR"),
		AWSRegion:       v.GetString("AWS_REGION"),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3Prefix:        v.GetString("S3_PREFIX"),
		SSEKMSKeyID:     v.GetString("SSE_KMS_KEY_ID"),

		JobStore:    normalizeJobStore(v.GetString("JOB_STORE"), dbURL, v.GetString("MONGO_URI")),
		DatabaseURL: dbURL,
		MongoURI:    v.GetString("MONGO_URI"),
		MongoDB:     v.GetString("MONGO_DB"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisPrefix:   v.GetString("REDIS_PREFIX"),

		QueueBackend: normalizeQueueBackend(v.GetString("QUEUE_BACKEND")),
		SQSQueueURL:  v.GetString("SQS_QUEUE_URL"),
		AMQPURL:      v.GetString("AMQP_URL"),
		AMQPQueue:    v.GetString("AMQP_QUEUE"),

		WorkerConcurrency:    max(1, v.GetInt("WORKER_CONCURRENCY")),
		SQSVisibilityTimeout: positiveDuration(v.GetDuration("SQS_VISIBILITY_TIMEOUT"), 20*time.Minute),
		ShutdownTimeout:      positiveDuration(v.GetDuration("SHUTDOWN_TIMEOUT"), 30*time.Second),

		OpenAIAPIKey:  v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL: v.GetString("OPENAI_BASE_URL"),
		LLMModel:      v.GetString("LLM_MODEL"),

		TranslationMode:     normalizeMode(v.GetString("TRANSLATION_MODE")),
		PollInterval:        positiveDuration(v.GetDuration("POLL_INTERVAL"), 2*time.Minute),
		PollTimeout:         positiveDuration(v.GetDuration("POLL_TIMEOUT"), time.Minute),
		DirectRatePerMinute: v.GetInt("DIRECT_RATE_PER_MINUTE"),
		DownloadURLTTL:      positiveDuration(v.GetDuration("DOWNLOAD_URL_TTL"), 15*time.Minute),
		StatusPollWindow:    v.GetDuration("STATUS_POLL_WINDOW"),
		Progress: ProgressConfig{
			DirectStart:    v.GetInt("PROGRESS_DIRECT_START"),
			DirectEnd:      v.GetInt("PROGRESS_DIRECT_END"),
			BatchSubmitted: v.GetInt("PROGRESS_BATCH_SUBMITTED"),
			BatchMax:       v.GetInt("PROGRESS_BATCH_MAX"),
			Reconstructing: v.GetInt("PROGRESS_RECONSTRUCTING"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("CORS_ALLOW_ORIGINS", "http://localhost:5173")
	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("OBJECT_STORE", "local")
	v.SetDefault("LOCAL_STORE_DIR", "./data")
	v.SetDefault("AWS_REGION", "")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_PREFIX", "")
	v.SetDefault("SSE_KMS_KEY_ID", "")

	v.SetDefault("JOB_STORE", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DB", "translator")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "translator:")

	v.SetDefault("QUEUE_BACKEND", "none")
	v.SetDefault("SQS_QUEUE_URL", "")
	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_QUEUE", "translation-jobs")
	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("SQS_VISIBILITY_TIMEOUT", "20m")
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")

	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")

	v.SetDefault("TRANSLATION_MODE", "batch")
	v.SetDefault("POLL_INTERVAL", "2m")
	v.SetDefault("POLL_TIMEOUT", "1m")
	v.SetDefault("DIRECT_RATE_PER_MINUTE", 60)
	v.SetDefault("DOWNLOAD_URL_TTL", "15m")
	v.SetDefault("STATUS_POLL_WINDOW", "1s")

	v.SetDefault("PROGRESS_DIRECT_START", 30)
	v.SetDefault("PROGRESS_DIRECT_END", 80)
	v.SetDefault("PROGRESS_BATCH_SUBMITTED", 40)
	v.SetDefault("PROGRESS_BATCH_MAX", 70)
	v.SetDefault("PROGRESS_RECONSTRUCTING", 80)
}

// mergeEnvFiles merges simple KEY=VALUE files when they exist. Values already
// present in the process environment still win through AutomaticEnv.
func mergeEnvFiles(v *viper.Viper, paths ...string) {
	for _, path := range paths {
		fileViper := viper.New()
		fileViper.SetConfigFile(path)
		fileViper.SetConfigType("env")
		if err := fileViper.ReadInConfig(); err != nil {
			continue
		}
		for _, key := range fileViper.AllKeys() {
			v.SetDefault(strings.ToUpper(key), fileViper.Get(key))
		}
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeJobStore(raw, dbURL, mongoURI string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "mongo", "mongodb":
		return "mongo"
	case "memory":
		return "memory"
	}
	switch {
	case dbURL != "":
		return "postgres"
	case mongoURI != "":
		return "mongo"
	default:
		return "memory"
	}
}

func normalizeQueueBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "amqp", "rabbitmq":
		return "amqp"
	default:
		return "none"
	}
}

func normalizeMode(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), "direct") {
		return "direct"
	}
	return "batch"
}

func positiveDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
