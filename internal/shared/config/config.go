package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	DatabaseURL     string
	RedisURL        string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	S3Endpoint      string
	GCSBucket       string
	GCSPrefix       string
	AdminJWTSecret  string
	CPFHashSecret   string
	QueueURL        string

	CORSAllowOrigins []string

	OCR    OCRConfig
	Vision VisionConfig
	Worker WorkerConfig
	API    APIConfig
}

// APIConfig limits the admin HTTP surface.
type APIConfig struct {
	RateLimitMax          int
	ReprocessRateLimitMax int
	RateLimitWindow       time.Duration
}

// OCRConfig controls the verification pipeline thresholds.
type OCRConfig struct {
	MinWidth         int
	MinHeight        int
	MinBytes         int64
	MinTextLength    int
	MaxDimension     int
	MaxPixels        int64
	NameThreshold    float64
	NameThresholdRaw string
	PDFTextLayer     bool
	RateLimitMax     int
	RateLimitWindow  time.Duration
}

// VisionConfig configures the external text-detection service.
type VisionConfig struct {
	Enabled         bool
	APIKey          string
	CredentialsFile string
	Endpoint        string
	Timeout         time.Duration
}

// WorkerConfig configures the queue consumer.
type WorkerConfig struct {
	Concurrency       int
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	VisibilityTimeout time.Duration
	ShutdownTimeout   time.Duration
}

const (
	defaultMinWidth      = 600
	defaultMinHeight     = 400
	defaultMinBytes      = 20 * 1024
	defaultMinTextLength = 20
	defaultMaxDimension  = 2000
	defaultMaxPixels     = 50_000_000
	defaultNameThreshold = 0.2
)

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	thresholdRaw := getEnv("OCR_NAME_DIVERGENCE_THRESHOLD", "")

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             normalizeEnv(getEnv("ENV", "dev")),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        getEnv("REDIS_URL", ""),
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		GCSBucket:       getEnv("GCS_BUCKET", ""),
		GCSPrefix:       getEnv("GCS_PREFIX", ""),
		AdminJWTSecret:  getEnv("ADMIN_JWT_SECRET", ""),
		CPFHashSecret:   getEnv("CPF_HASH_SECRET", ""),
		QueueURL:        strings.TrimSpace(getEnv("DV_SQS_QUEUE_URL", "")),

		CORSAllowOrigins: splitList(getEnv("CORS_ALLOW_ORIGINS", "")),
		OCR: OCRConfig{
			MinWidth:         getEnvInt("OCR_MIN_WIDTH", defaultMinWidth),
			MinHeight:        getEnvInt("OCR_MIN_HEIGHT", defaultMinHeight),
			MinBytes:         int64(getEnvInt("OCR_MIN_BYTES", defaultMinBytes)),
			MinTextLength:    getEnvInt("OCR_MIN_TEXT_LENGTH", defaultMinTextLength),
			MaxDimension:     getEnvInt("OCR_MAX_DIMENSION", defaultMaxDimension),
			MaxPixels:        int64(getEnvInt("OCR_MAX_PIXELS", defaultMaxPixels)),
			NameThreshold:    getEnvFloat("OCR_NAME_DIVERGENCE_THRESHOLD", defaultNameThreshold),
			NameThresholdRaw: thresholdRaw,
			PDFTextLayer:     getEnvBool("OCR_PDF_TEXT_LAYER", false),
			RateLimitMax:     getEnvInt("OCR_RATE_LIMIT_MAX", 30),
			RateLimitWindow:  getEnvDuration("OCR_RATE_LIMIT_WINDOW", time.Minute),
		},
		Vision: VisionConfig{
			Enabled:         getEnvBool("GOOGLE_VISION_ENABLED", false),
			APIKey:          getEnv("GOOGLE_VISION_API_KEY", ""),
			CredentialsFile: getEnv("GOOGLE_VISION_CREDENTIALS_FILE", ""),
			Endpoint:        getEnv("GOOGLE_VISION_ENDPOINT", "https://vision.googleapis.com"),
			Timeout:         time.Duration(getEnvInt("GOOGLE_VISION_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:       getEnvInt("OCR_JOB_CONCURRENCY", 2),
			MaxAttempts:       getEnvInt("OCR_JOB_MAX_ATTEMPTS", 3),
			RetryBaseDelay:    time.Duration(getEnvInt("OCR_RETRY_BASE_DELAY_SECONDS", 5)) * time.Second,
			VisibilityTimeout: time.Duration(getEnvInt("DV_SQS_VISIBILITY_TIMEOUT_SECONDS", 300)) * time.Second,
			ShutdownTimeout:   time.Duration(getEnvInt("DV_SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		API: APIConfig{
			RateLimitMax:          getEnvInt("API_RATE_LIMIT_MAX", 120),
			ReprocessRateLimitMax: getEnvInt("API_REPROCESS_RATE_LIMIT_MAX", 10),
			RateLimitWindow:       getEnvDuration("API_RATE_LIMIT_WINDOW", time.Minute),
		},
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	if c.Env == "production" && strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required in production"))
	}
	if c.OCR.MinWidth < 0 || c.OCR.MinHeight < 0 || c.OCR.MinBytes < 0 {
		errs = append(errs, errors.New("OCR minimum dimensions must not be negative"))
	}
	if c.OCR.MaxPixels < 0 {
		errs = append(errs, fmt.Errorf("OCR_MAX_PIXELS must not be negative, got %d", c.OCR.MaxPixels))
	}
	if c.OCR.MaxDimension <= 0 {
		errs = append(errs, fmt.Errorf("OCR_MAX_DIMENSION must be positive, got %d", c.OCR.MaxDimension))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("OCR_JOB_CONCURRENCY must be positive, got %d", c.Worker.Concurrency))
	}
	if c.Worker.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("OCR_JOB_MAX_ATTEMPTS must be positive, got %d", c.Worker.MaxAttempts))
	}
	if c.OCR.RateLimitMax < 0 || c.OCR.RateLimitWindow < 0 {
		errs = append(errs, errors.New("OCR rate limit settings must not be negative"))
	}
	switch c.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(c.S3Bucket) == "" {
			errs = append(errs, errors.New("OBJECT_STORE=s3 requires S3_BUCKET"))
		}
	case "gcs":
		if strings.TrimSpace(c.GCSBucket) == "" {
			errs = append(errs, errors.New("OBJECT_STORE=gcs requires GCS_BUCKET"))
		}
	}
	if !IsDevLike(c.Env) && strings.TrimSpace(c.AdminJWTSecret) == "" {
		errs = append(errs, errors.New("ADMIN_JWT_SECRET is required outside dev"))
	}
	if !IsDevLike(c.Env) && strings.TrimSpace(c.CPFHashSecret) == "" {
		errs = append(errs, errors.New("CPF_HASH_SECRET is required outside dev"))
	}
	if c.Vision.Enabled && c.Vision.APIKey == "" && c.Vision.CredentialsFile == "" {
		errs = append(errs, errors.New("GOOGLE_VISION_ENABLED requires GOOGLE_VISION_API_KEY or GOOGLE_VISION_CREDENTIALS_FILE"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	raw = strings.TrimSuffix(raw, "%")
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if val, err := time.ParseDuration(raw); err == nil {
		return val
	}
	// Plain integers are milliseconds.
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
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
	case "test":
		return "test"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "gcs", "gs":
		return "gcs"
	default:
		return "local"
	}
}

// IsDevLike reports whether env allows in-memory fallbacks.
func IsDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}
