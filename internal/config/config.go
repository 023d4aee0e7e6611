// Package config provides configuration management for the AdClip server.
// Configuration is loaded from an optional YAML file and environment
// variables, with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".adclip"

	// Environment variable names
	EnvConfigFile = "ADCLIP_CONFIG"
	EnvPort       = "ADCLIP_PORT"
	EnvLogLevel   = "ADCLIP_LOG_LEVEL"
	EnvDataDir    = "ADCLIP_DATA_DIR"
	EnvAuthToken  = "ADCLIP_AUTH_TOKEN"
	EnvBaseURL    = "ADCLIP_BASE_URL"
	EnvInboxDir   = "ADCLIP_INBOX_DIR"

	// Storage environment variable names
	EnvStorage         = "ADCLIP_STORAGE"
	EnvGCSBucket       = "ADCLIP_GCS_BUCKET"
	EnvGCSCredentials  = "ADCLIP_GCS_CREDENTIALS"
	EnvSignedURLExpiry = "ADCLIP_SIGNED_URL_EXPIRY"

	// Tool environment variable names
	EnvFFmpegPath   = "ADCLIP_FFMPEG"
	EnvFFprobePath  = "ADCLIP_FFPROBE"
	EnvWhisperPath  = "ADCLIP_WHISPER"
	EnvWhisperModel = "ADCLIP_WHISPER_MODEL"

	// LLM environment variable names
	EnvLLMProvider      = "ADCLIP_LLM_PROVIDER"
	EnvLLMModel         = "ADCLIP_LLM_MODEL"
	EnvGeminiAPIKey     = "GEMINI_API_KEY"
	EnvGCPProject       = "ADCLIP_GCP_PROJECT"
	EnvGCPLocation      = "ADCLIP_GCP_LOCATION"
	EnvOpenRouterAPIKey = "OPENROUTER_API_KEY"
	EnvOpenRouterURL    = "ADCLIP_OPENROUTER_URL"

	// Watermark environment variable names
	EnvWatermarkLandscape = "ADCLIP_WATERMARK_LANDSCAPE"
	EnvWatermarkVertical  = "ADCLIP_WATERMARK_VERTICAL"

	// Database filename
	DBFilename = "adclip.db"

	StorageLocal = "local"
	StorageGCS   = "gcs"

	ProviderGenAI      = "genai"
	ProviderOpenRouter = "openrouter"

	DefaultLLMModel        = "gemini-2.0-flash"
	DefaultGCPLocation     = "us-central1"
	DefaultSignedURLExpiry = 15 * time.Minute
	DefaultSessionTTL      = 2 * time.Hour

	// Tool timeouts
	DefaultTimeoutDoctor = 30   // seconds
	DefaultTimeoutSpeech = 1800 // 30 minutes
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	AuthToken() string
	BaseURL() string
	InboxDir() string
	SessionTTL() time.Duration

	Storage() string
	StorageDir() string
	GCSBucket() string
	GCSCredentials() string
	SignedURLExpiry() time.Duration

	FFmpegPath() string
	FFprobePath() string
	WhisperPath() string
	WhisperModel() string
	TimeoutDoctor() time.Duration
	TimeoutSpeech() time.Duration

	LLMProvider() string
	LLMModel() string
	GeminiAPIKey() string
	GCPProject() string
	GCPLocation() string
	OpenRouterAPIKey() string
	OpenRouterURL() string

	WatermarkLandscape() string
	WatermarkVertical() string
}

// fileConfig is the layout of the optional YAML file.
type fileConfig struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	DataDir   string `yaml:"data_dir"`
	AuthToken string `yaml:"auth_token"`
	BaseURL   string `yaml:"base_url"`
	InboxDir  string `yaml:"inbox_dir"`

	Storage struct {
		Backend         string `yaml:"backend"`
		GCSBucket       string `yaml:"gcs_bucket"`
		GCSCredentials  string `yaml:"gcs_credentials"`
		SignedURLExpiry string `yaml:"signed_url_expiry"`
	} `yaml:"storage"`

	Tools struct {
		FFmpeg       string `yaml:"ffmpeg"`
		FFprobe      string `yaml:"ffprobe"`
		Whisper      string `yaml:"whisper"`
		WhisperModel string `yaml:"whisper_model"`
	} `yaml:"tools"`

	LLM struct {
		Provider      string `yaml:"provider"`
		Model         string `yaml:"model"`
		GeminiAPIKey  string `yaml:"gemini_api_key"`
		GCPProject    string `yaml:"gcp_project"`
		GCPLocation   string `yaml:"gcp_location"`
		OpenRouterKey string `yaml:"openrouter_api_key"`
		OpenRouterURL string `yaml:"openrouter_url"`
	} `yaml:"llm"`

	Watermark struct {
		Landscape string `yaml:"landscape"`
		Vertical  string `yaml:"vertical"`
	} `yaml:"watermark"`
}

// EnvConfig holds configuration resolved from defaults, the YAML file and
// the environment, in that order.
type EnvConfig struct {
	port      int
	logLevel  string
	dataDir   string
	authToken string
	baseURL   string
	inboxDir  string

	storage         string
	gcsBucket       string
	gcsCredentials  string
	signedURLExpiry time.Duration

	ffmpegPath   string
	ffprobePath  string
	whisperPath  string
	whisperModel string

	llmProvider      string
	llmModel         string
	geminiAPIKey     string
	gcpProject       string
	gcpLocation      string
	openRouterAPIKey string
	openRouterURL    string

	watermarkLandscape string
	watermarkVertical  string
}

// New creates a new EnvConfig with defaults, the file named by
// ADCLIP_CONFIG and environment variable overrides.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		storage:         StorageLocal,
		signedURLExpiry: DefaultSignedURLExpiry,
		llmProvider:     ProviderGenAI,
		llmModel:        DefaultLLMModel,
		gcpLocation:     DefaultGCPLocation,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.port = fc.Port
	}
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.authToken, fc.AuthToken)
	setString(&c.baseURL, fc.BaseURL)
	setString(&c.inboxDir, fc.InboxDir)

	setString(&c.storage, fc.Storage.Backend)
	setString(&c.gcsBucket, fc.Storage.GCSBucket)
	setString(&c.gcsCredentials, fc.Storage.GCSCredentials)
	if fc.Storage.SignedURLExpiry != "" {
		d, err := time.ParseDuration(fc.Storage.SignedURLExpiry)
		if err != nil {
			return fmt.Errorf("invalid storage.signed_url_expiry: %w", err)
		}
		c.signedURLExpiry = d
	}

	setString(&c.ffmpegPath, fc.Tools.FFmpeg)
	setString(&c.ffprobePath, fc.Tools.FFprobe)
	setString(&c.whisperPath, fc.Tools.Whisper)
	setString(&c.whisperModel, fc.Tools.WhisperModel)

	setString(&c.llmProvider, fc.LLM.Provider)
	setString(&c.llmModel, fc.LLM.Model)
	setString(&c.geminiAPIKey, fc.LLM.GeminiAPIKey)
	setString(&c.gcpProject, fc.LLM.GCPProject)
	setString(&c.gcpLocation, fc.LLM.GCPLocation)
	setString(&c.openRouterAPIKey, fc.LLM.OpenRouterKey)
	setString(&c.openRouterURL, fc.LLM.OpenRouterURL)

	setString(&c.watermarkLandscape, fc.Watermark.Landscape)
	setString(&c.watermarkVertical, fc.Watermark.Vertical)
	return nil
}

func (c *EnvConfig) loadEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if d := os.Getenv(EnvSignedURLExpiry); d != "" {
		expiry, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvSignedURLExpiry, err)
		}
		c.signedURLExpiry = expiry
	}

	for env, dst := range map[string]*string{
		EnvLogLevel:           &c.logLevel,
		EnvDataDir:            &c.dataDir,
		EnvAuthToken:          &c.authToken,
		EnvBaseURL:            &c.baseURL,
		EnvInboxDir:           &c.inboxDir,
		EnvStorage:            &c.storage,
		EnvGCSBucket:          &c.gcsBucket,
		EnvGCSCredentials:     &c.gcsCredentials,
		EnvFFmpegPath:         &c.ffmpegPath,
		EnvFFprobePath:        &c.ffprobePath,
		EnvWhisperPath:        &c.whisperPath,
		EnvWhisperModel:       &c.whisperModel,
		EnvLLMProvider:        &c.llmProvider,
		EnvLLMModel:           &c.llmModel,
		EnvGeminiAPIKey:       &c.geminiAPIKey,
		EnvGCPProject:         &c.gcpProject,
		EnvGCPLocation:        &c.gcpLocation,
		EnvOpenRouterAPIKey:   &c.openRouterAPIKey,
		EnvOpenRouterURL:      &c.openRouterURL,
		EnvWatermarkLandscape: &c.watermarkLandscape,
		EnvWatermarkVertical:  &c.watermarkVertical,
	} {
		setString(dst, os.Getenv(env))
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: port must be between 1 and 65535", c.port)
	}
	c.storage = strings.ToLower(c.storage)
	switch c.storage {
	case StorageLocal:
	case StorageGCS:
		if c.gcsBucket == "" {
			return fmt.Errorf("%s is required when storage is %q", EnvGCSBucket, StorageGCS)
		}
	default:
		return fmt.Errorf("invalid storage backend %q", c.storage)
	}
	c.llmProvider = strings.ToLower(c.llmProvider)
	if c.llmProvider != ProviderGenAI && c.llmProvider != ProviderOpenRouter {
		return fmt.Errorf("invalid llm provider %q", c.llmProvider)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// AuthToken returns the bearer token required by the API. Empty disables
// authentication.
func (c *EnvConfig) AuthToken() string {
	return c.authToken
}

// BaseURL returns the externally reachable server URL used for media links.
func (c *EnvConfig) BaseURL() string {
	if c.baseURL != "" {
		return strings.TrimRight(c.baseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.port)
}

// InboxDir returns the watched import directory, empty when disabled.
func (c *EnvConfig) InboxDir() string {
	return c.inboxDir
}

func (c *EnvConfig) SessionTTL() time.Duration {
	return DefaultSessionTTL
}

// Storage returns the object storage backend, "local" or "gcs".
func (c *EnvConfig) Storage() string {
	return c.storage
}

// StorageDir returns the root of the local bucket.
func (c *EnvConfig) StorageDir() string {
	return filepath.Join(c.dataDir, "storage")
}

func (c *EnvConfig) GCSBucket() string {
	return c.gcsBucket
}

func (c *EnvConfig) GCSCredentials() string {
	return c.gcsCredentials
}

func (c *EnvConfig) SignedURLExpiry() time.Duration {
	return c.signedURLExpiry
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) WhisperPath() string {
	return c.whisperPath
}

// WhisperModel returns the ggml model file for whisper.cpp. Transcription
// is unavailable when empty.
func (c *EnvConfig) WhisperModel() string {
	return c.whisperModel
}

func (c *EnvConfig) TimeoutDoctor() time.Duration {
	return time.Duration(DefaultTimeoutDoctor) * time.Second
}

func (c *EnvConfig) TimeoutSpeech() time.Duration {
	return time.Duration(DefaultTimeoutSpeech) * time.Second
}

// LLMProvider returns "genai" or "openrouter".
func (c *EnvConfig) LLMProvider() string {
	return c.llmProvider
}

func (c *EnvConfig) LLMModel() string {
	return c.llmModel
}

func (c *EnvConfig) GeminiAPIKey() string {
	return c.geminiAPIKey
}

// GCPProject routes genai calls through Vertex AI when set.
func (c *EnvConfig) GCPProject() string {
	return c.gcpProject
}

func (c *EnvConfig) GCPLocation() string {
	return c.gcpLocation
}

func (c *EnvConfig) OpenRouterAPIKey() string {
	return c.openRouterAPIKey
}

func (c *EnvConfig) OpenRouterURL() string {
	return c.openRouterURL
}

// WatermarkLandscape returns the overlay image for landscape renders.
func (c *EnvConfig) WatermarkLandscape() string {
	return c.watermarkLandscape
}

// WatermarkVertical returns the overlay image for vertical renders.
func (c *EnvConfig) WatermarkVertical() string {
	return c.watermarkVertical
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
