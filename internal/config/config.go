package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	BackendGCS   = "gcs"
	BackendMinio = "minio"
)

type Config struct {
	ProjectID      string
	VertexAIRegion string
	ModelID        string

	BlobBackend  string
	IntakeBucket string
	ErrorBucket  string

	IndexCollection       string
	PhysicianCollection   string
	PhysicianRegistryFile string

	PrincipalHeader string
	JwtSecret       string
	JwtIssuer       string
	JwtAudience     string
	MaxUploadBytes  int64
	HistoryLimit    int

	MinioEndpoint  string
	MinioSecure    bool
	MinioAccessKey string
	MinioSecretKey string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	HTTPAddr string
}

// Load reads the configuration from the environment and validates the keys
// every entry point needs. Keys used by a single entry point are checked by
// the Require methods.
func Load() (Config, error) {
	cfg := Config{
		ProjectID:             GetEnv("PROJECT_ID", ""),
		VertexAIRegion:        GetEnv("VERTEX_AI_REGION", "us-central1"),
		ModelID:               GetEnv("EXTRACTION_MODEL_ID", "gemini-1.5-pro"),
		BlobBackend:           strings.ToLower(GetEnv("BLOB_BACKEND", BackendGCS)),
		IntakeBucket:          GetEnv("INTAKE_BUCKET", ""),
		ErrorBucket:           GetEnv("ERROR_BUCKET", ""),
		IndexCollection:       GetEnv("INDEX_COLLECTION", "medical-reports"),
		PhysicianCollection:   GetEnv("PHYSICIAN_COLLECTION", ""),
		PhysicianRegistryFile: GetEnv("PHYSICIAN_REGISTRY_FILE", ""),
		PrincipalHeader:       GetEnv("PRINCIPAL_HEADER", "X-MS-CLIENT-PRINCIPAL"),
		JwtSecret:             os.Getenv("JWT_SECRET"),
		JwtIssuer:             os.Getenv("JWT_ISSUER"),
		JwtAudience:           os.Getenv("JWT_AUDIENCE"),
		MinioAccessKey:        os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:        os.Getenv("MINIO_SECRET_KEY"),
		KafkaTopic:            GetEnv("KAFKA_TOPIC", "intake-events"),
		KafkaGroupID:          GetEnv("KAFKA_GROUP_ID", "intake-worker"),
		HTTPAddr:              GetEnv("HTTP_ADDR", ":8080"),
	}

	var err error
	if cfg.MaxUploadBytes, err = getEnvInt64("MAX_UPLOAD_BYTES", 20<<20); err != nil {
		return Config{}, err
	}
	historyLimit, err := getEnvInt64("HISTORY_LIMIT", 50)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit = int(historyLimit)

	for _, broker := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, trimmed)
		}
	}

	if cfg.ModelID == "" {
		return Config{}, fmt.Errorf("EXTRACTION_MODEL_ID must not be empty")
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if cfg.JwtSecret != "" && (cfg.JwtIssuer == "" || cfg.JwtAudience == "") {
		return Config{}, fmt.Errorf("JWT_SECRET requires JWT_ISSUER and JWT_AUDIENCE")
	}

	switch cfg.BlobBackend {
	case BackendGCS:
	case BackendMinio:
		endpoint, secure, err := ParseEndpoint(os.Getenv("MINIO_ENDPOINT"))
		if err != nil {
			return Config{}, err
		}
		cfg.MinioEndpoint = endpoint
		cfg.MinioSecure = secure
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return Config{}, fmt.Errorf("missing MINIO_ACCESS_KEY or MINIO_SECRET_KEY")
		}
	default:
		return Config{}, fmt.Errorf("unsupported BLOB_BACKEND %q", cfg.BlobBackend)
	}

	return cfg, nil
}

// RequireUpload checks the keys the upload gateway depends on.
func (c Config) RequireUpload() error {
	if c.IntakeBucket == "" {
		return fmt.Errorf("INTAKE_BUCKET environment variable must be set")
	}
	return nil
}

// RequirePipeline checks the extra keys the ingestion pipeline depends on.
func (c Config) RequirePipeline() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if c.ErrorBucket == "" {
		return fmt.Errorf("ERROR_BUCKET environment variable must be set")
	}
	return nil
}

// RequireWorker checks the Kafka settings used by the intake worker.
func (c Config) RequireWorker() error {
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("missing KAFKA_BROKERS")
	}
	if c.KafkaTopic == "" || c.KafkaGroupID == "" {
		return fmt.Errorf("missing KAFKA_TOPIC or KAFKA_GROUP_ID")
	}
	return nil
}

// JWTEnabled reports whether bearer tokens are accepted as a fallback identity.
func (c Config) JWTEnabled() bool {
	return c.JwtSecret != ""
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// ParseEndpoint accepts either host:port or a full URL and reports whether TLS
// should be used.
func ParseEndpoint(raw string) (string, bool, error) {
	if raw == "" {
		return "", false, fmt.Errorf("missing MINIO_ENDPOINT")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		scheme, host, _ := strings.Cut(raw, "://")
		host = strings.TrimSuffix(host, "/")
		if host == "" || strings.Contains(host, "/") {
			return "", false, fmt.Errorf("invalid MINIO_ENDPOINT: %q", raw)
		}
		return host, scheme == "https", nil
	}
	return raw, false, nil
}
