package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Artifact store backends.
const (
	ArtifactStoreFile     = "file"
	ArtifactStorePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	CORS     CORSConfig
	Model    ModelConfig
	Risk     RiskConfig
	Training TrainingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// DSN returns the postgres connection URL.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// ModelConfig describes which artifact the server loads and where it lives.
type ModelConfig struct {
	// Path is the artifact key inside the store.
	Path    string
	Version string
	Kind    string
	// Store is ArtifactStoreFile or ArtifactStorePostgres.
	Store string
	// Dir is the FileStore root when Store is ArtifactStoreFile.
	Dir string
}

// RiskConfig holds the score thresholds used by the serving boundary.
type RiskConfig struct {
	HighThreshold   int
	MediumThreshold int
}

// TrainingConfig holds the training pipeline settings.
type TrainingConfig struct {
	TestSize float64
	CVFolds  int
	Seed     int64
	Tune     bool
	GridFile string
	// RecordsFile, when set, is read instead of the database record tables.
	RecordsFile string
	// Schedule is a cron expression for background retraining; empty disables it.
	Schedule string
	Timeout  time.Duration
}

// FlagKeys maps command-line flag names to the configuration keys they
// override.
var FlagKeys = map[string]string{
	"records":       "TRAIN_RECORDS_FILE",
	"model-kind":    "MODEL_KIND",
	"model-version": "MODEL_VERSION",
	"model-path":    "MODEL_PATH",
	"artifact-dir":  "ARTIFACT_DIR",
	"store":         "ARTIFACT_STORE",
	"test-size":     "TRAIN_TEST_SIZE",
	"cv-folds":      "TRAIN_CV_FOLDS",
	"seed":          "TRAIN_SEED",
	"tune":          "TRAIN_TUNE",
	"grid":          "TRAIN_GRID_FILE",
	"timeout":       "TRAIN_TIMEOUT",
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags is Load with the flags named in FlagKeys taking precedence
// over the environment when they are set on the command line.
func LoadWithFlags(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "churn")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")
	v.SetDefault("MODEL_PATH", "churn_model.json")
	v.SetDefault("MODEL_VERSION", "1.0.0")
	v.SetDefault("MODEL_KIND", "gradient_boosting")
	v.SetDefault("ARTIFACT_STORE", ArtifactStoreFile)
	v.SetDefault("ARTIFACT_DIR", "models")
	v.SetDefault("RISK_THRESHOLD_HIGH", 80)
	v.SetDefault("RISK_THRESHOLD_MEDIUM", 50)
	v.SetDefault("TRAIN_TEST_SIZE", 0.2)
	v.SetDefault("TRAIN_CV_FOLDS", 5)
	v.SetDefault("TRAIN_SEED", 42)
	v.SetDefault("TRAIN_TUNE", false)
	v.SetDefault("TRAIN_TIMEOUT", "30m")

	// Bind environment variables
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	// Build configuration
	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("DB_ENABLED"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Model: ModelConfig{
			Path:    v.GetString("MODEL_PATH"),
			Version: v.GetString("MODEL_VERSION"),
			Kind:    v.GetString("MODEL_KIND"),
			Store:   strings.ToLower(v.GetString("ARTIFACT_STORE")),
			Dir:     v.GetString("ARTIFACT_DIR"),
		},
		Risk: RiskConfig{
			HighThreshold:   v.GetInt("RISK_THRESHOLD_HIGH"),
			MediumThreshold: v.GetInt("RISK_THRESHOLD_MEDIUM"),
		},
		Training: TrainingConfig{
			TestSize:    v.GetFloat64("TRAIN_TEST_SIZE"),
			CVFolds:     v.GetInt("TRAIN_CV_FOLDS"),
			Seed:        v.GetInt64("TRAIN_SEED"),
			Tune:        v.GetBool("TRAIN_TUNE"),
			GridFile:    v.GetString("TRAIN_GRID_FILE"),
			RecordsFile: v.GetString("TRAIN_RECORDS_FILE"),
			Schedule:    v.GetString("RETRAIN_SCHEDULE"),
			Timeout:     v.GetDuration("TRAIN_TIMEOUT"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// Database settings only matter when the database is in use
	if c.Database.Enabled {
		if err := c.Database.validate(); err != nil {
			return err
		}
	}

	// Validate CORS config
	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	// Validate model config
	if c.Model.Path == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}
	switch c.Model.Kind {
	case "gradient_boosting", "logistic_regression":
	default:
		return fmt.Errorf("MODEL_KIND must be gradient_boosting or logistic_regression, got %q", c.Model.Kind)
	}
	switch c.Model.Store {
	case ArtifactStoreFile:
		if c.Model.Dir == "" {
			return fmt.Errorf("ARTIFACT_DIR is required for the file artifact store")
		}
	case ArtifactStorePostgres:
		if !c.Database.Enabled {
			return fmt.Errorf("ARTIFACT_STORE=postgres requires DB_ENABLED")
		}
	default:
		return fmt.Errorf("ARTIFACT_STORE must be file or postgres, got %q", c.Model.Store)
	}

	// Validate risk thresholds
	if c.Risk.MediumThreshold < 0 || c.Risk.HighThreshold > 100 || c.Risk.MediumThreshold > c.Risk.HighThreshold {
		return fmt.Errorf("risk thresholds must satisfy 0 <= RISK_THRESHOLD_MEDIUM <= RISK_THRESHOLD_HIGH <= 100")
	}

	// Validate training config
	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		return fmt.Errorf("TRAIN_TEST_SIZE must be between 0 and 1")
	}
	if c.Training.CVFolds != 0 && c.Training.CVFolds < 2 {
		return fmt.Errorf("TRAIN_CV_FOLDS must be 0 or at least 2")
	}
	if c.Training.Timeout <= 0 {
		return fmt.Errorf("TRAIN_TIMEOUT must be positive")
	}
	if c.Training.Schedule != "" {
		if _, err := cron.ParseStandard(c.Training.Schedule); err != nil {
			return fmt.Errorf("RETRAIN_SCHEDULE is invalid: %w", err)
		}
	}

	return nil
}

func (d DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if d.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if d.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if d.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if d.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if d.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if d.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if d.PoolMin > d.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
