package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed gate.yaml
var gateYAML []byte

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Model    ModelConfig
	Face     FaceConfig
	Gate     GateConfig
}

type ServerConfig struct {
	Host          string
	Port          int
	SessionSecret string
	BaseURL       string // public base URL used in redirect targets
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// ModelConfig points at the model-serving service that performs the actual
// face detection and descriptor extraction.
type ModelConfig struct {
	URL    string // defaults to http://localhost:8000
	Models []string
}

type FaceConfig struct {
	MatchThreshold     float64       // Euclidean distance cutoff (default 0.55)
	VerifyMaxAttempts  int           // attempts per gated session (default 3)
	LoginMaxAttempts   int           // face-login attempts per session (default 5)
	LoginAttemptWindow time.Duration // counter reset window (default 5m)
	EnrollTargetFrames int           // camera frames collected per enrollment (default 5)
	CaptureTimeout     time.Duration // give up on auto-capture after this long (default 2m)
}

// GateConfig drives the face-verification session gate. The defaults are
// embedded; deployments override through environment variables because the
// exact route set is deployment specific.
type GateConfig struct {
	VerifyPath     string   `yaml:"verify_path"`
	AllowedPaths   []string `yaml:"allowed_paths"`
	StaticPrefixes []string `yaml:"static_prefixes"`
}

// defaultModels are the weight sets the model service must have loaded before
// capture can start: detector, landmarks, recognizer.
var defaultModels = []string{"ssd_mobilenetv1", "face_landmark_68", "face_recognition"}

func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList parses a comma-separated env var. Returns nil when unset so the
// caller can keep its defaults.
func envList(key string) []string {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() *Config {
	var gate GateConfig
	if err := yaml.Unmarshal(gateYAML, &gate); err != nil {
		// Embedded file, should never happen in practice.
		panic("failed to unmarshal embedded gate.yaml: " + err.Error())
	}

	if v := envString("FACEID_GATE_VERIFY_PATH", ""); v != "" {
		gate.VerifyPath = v
	}
	if paths := envList("FACEID_GATE_ALLOWED_PATHS"); paths != nil {
		gate.AllowedPaths = paths
	}
	if prefixes := envList("FACEID_GATE_STATIC_PREFIXES"); prefixes != nil {
		gate.StaticPrefixes = prefixes
	}

	models := envList("FACEID_MODEL_NAMES")
	if models == nil {
		models = defaultModels
	}

	return &Config{
		Server: ServerConfig{
			Host:          envString("FACEID_HOST", "0.0.0.0"),
			Port:          envInt("FACEID_PORT", 8080),
			SessionSecret: os.Getenv("FACEID_SESSION_SECRET"),
			BaseURL:       envString("FACEID_BASE_URL", ""),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Model: ModelConfig{
			URL:    envString("FACEID_MODEL_URL", "http://localhost:8000"),
			Models: models,
		},
		Face: FaceConfig{
			MatchThreshold:     envFloat("FACEID_MATCH_THRESHOLD", 0.55),
			VerifyMaxAttempts:  envInt("FACEID_VERIFY_MAX_ATTEMPTS", 3),
			LoginMaxAttempts:   envInt("FACEID_LOGIN_MAX_ATTEMPTS", 5),
			LoginAttemptWindow: envDuration("FACEID_LOGIN_ATTEMPT_WINDOW", 5*time.Minute),
			EnrollTargetFrames: envInt("FACEID_ENROLL_FRAMES", 5),
			CaptureTimeout:     envDuration("FACEID_CAPTURE_TIMEOUT", 2*time.Minute),
		},
		Gate: gate,
	}
}
