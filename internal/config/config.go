// Package config provides configuration management for the PDF translator
// service. Settings load from a JSON file with environment variables taking
// precedence for credentials and deployment-specific values.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "pdf-translator-config.json"

	// EnvOpenAIAPIKey is the environment variable for the OpenAI API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable for the OpenAI base URL
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	// EnvOpenRouterAPIKey is the environment variable for the OpenRouter API key
	EnvOpenRouterAPIKey = "OPENROUTER_API_KEY"
	// EnvAdminToken is the environment variable for the admin API token
	EnvAdminToken = "ADMIN_API_TOKEN"
	// EnvDataDir is the environment variable overriding the data directory
	EnvDataDir = "PDF_TRANSLATOR_DATA_DIR"
	// EnvListenAddr is the environment variable overriding the listen address
	EnvListenAddr = "PDF_TRANSLATOR_LISTEN_ADDR"
	// EnvFontPath is the environment variable overriding the TTF font path
	EnvFontPath = "PDF_TRANSLATOR_FONT_PATH"
)

// Defaults applied when the config file omits a value.
const (
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultTranslateModel    = "gpt-4o-mini"
	DefaultOCRModel          = "google/gemini-2.5-flash-lite"
	DefaultFallbackModel     = "google/gemini-2.5-flash"
	DefaultListenAddr        = ":8900"
	DefaultDataDir           = "data"
	DefaultContextWindow     = 4000
	DefaultWorkers           = 2
	DefaultConcurrency       = 3
	DefaultMaxRetries        = 3
	DefaultTimeoutSeconds    = 120
	DefaultMaxPages          = 150
	DefaultMaxFileMB         = 80
	DefaultRetentionHours    = 24
	DefaultRenderDPI         = 170
	DefaultMaxRenderDim      = 2200
	DefaultDensityThreshold  = 20
	DefaultOCRMinConfidence  = 0.5
	DefaultLowConfidence     = 0.6
	DefaultFontPath          = "fonts/DejaVuSans.ttf"
)

// Settings holds the service configuration.
type Settings struct {
	DataDir    string `json:"data_dir"`
	ListenAddr string `json:"listen_addr"`
	AdminToken string `json:"admin_token"`

	// Translation providers. Provider selects the primary capability
	// implementation: "openai" or "openrouter".
	Provider          string `json:"provider"`
	OpenAIAPIKey      string `json:"openai_api_key"`
	OpenAIBaseURL     string `json:"openai_base_url"`
	OpenRouterAPIKey  string `json:"openrouter_api_key"`
	OpenRouterBaseURL string `json:"openrouter_base_url"`
	TranslateModel    string `json:"translate_model"`
	FallbackModel     string `json:"fallback_model"`

	// OCR capability: "openrouter" (vision model) or "tesseract" (local).
	OCREngine string `json:"ocr_engine"`
	OCRModel  string `json:"ocr_model"`

	// Pipeline tuning.
	ContextWindow       int `json:"context_window"`       // max chars per translation batch
	Workers             int `json:"workers"`              // concurrent job executions
	ProviderConcurrency int `json:"provider_concurrency"` // concurrent provider calls per stage
	MaxRetries          int `json:"max_retries"`
	TimeoutSeconds      int `json:"timeout_seconds"`

	// Limits enforced at acceptance.
	MaxPages       int `json:"max_pages"`
	MaxFileMB      int `json:"max_file_mb"`
	RetentionHours int `json:"retention_hours"`

	// Rasterization for OCR fallback.
	RenderDPI    int `json:"render_dpi"`
	MaxRenderDim int `json:"max_render_dim"` // longest image edge after downscale

	// Policy thresholds.
	TextDensityThreshold   int     `json:"text_density_threshold"`   // chars per page floor for text-bearing
	OCRMinConfidence       float64 `json:"ocr_min_confidence"`       // span confidence floor
	LowConfidenceThreshold float64 `json:"low_confidence_threshold"` // batch fallback trigger

	// Reconstruction font (must cover Turkish glyphs).
	FontPath string `json:"font_path"`
	FontName string `json:"font_name"`

	LogFilePath string `json:"log_file_path"`
	LogLevel    string `json:"log_level"`
}

// Manager manages service configuration
type Manager struct {
	configPath string
	settings   *Settings
}

// NewManager creates a Manager for the given config path. An empty path
// selects the default file in the working directory.
func NewManager(configPath string) *Manager {
	if configPath == "" {
		configPath = DefaultConfigFileName
	}
	return &Manager{
		configPath: configPath,
		settings:   defaultSettings(),
	}
}

func defaultSettings() *Settings {
	return &Settings{
		DataDir:                DefaultDataDir,
		ListenAddr:             DefaultListenAddr,
		Provider:               "openrouter",
		OpenAIBaseURL:          DefaultOpenAIBaseURL,
		OpenRouterBaseURL:      DefaultOpenRouterBaseURL,
		TranslateModel:         DefaultTranslateModel,
		FallbackModel:          DefaultFallbackModel,
		OCREngine:              "openrouter",
		OCRModel:               DefaultOCRModel,
		ContextWindow:          DefaultContextWindow,
		Workers:                DefaultWorkers,
		ProviderConcurrency:    DefaultConcurrency,
		MaxRetries:             DefaultMaxRetries,
		TimeoutSeconds:         DefaultTimeoutSeconds,
		MaxPages:               DefaultMaxPages,
		MaxFileMB:              DefaultMaxFileMB,
		RetentionHours:         DefaultRetentionHours,
		RenderDPI:              DefaultRenderDPI,
		MaxRenderDim:           DefaultMaxRenderDim,
		TextDensityThreshold:   DefaultDensityThreshold,
		OCRMinConfidence:       DefaultOCRMinConfidence,
		LowConfidenceThreshold: DefaultLowConfidence,
		FontPath:               DefaultFontPath,
		FontName:               "dejavu",
		LogFilePath:            "pdf-translator.log",
		LogLevel:               "info",
	}
}

// Load reads the config file if present, fills defaults for empty fields
// and applies environment overrides.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
			m.settings = defaultSettings()
		} else {
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
	} else {
		s := &Settings{}
		if err := json.Unmarshal(data, s); err != nil {
			logger.Warn("invalid config file format, using defaults",
				logger.String("path", m.configPath), logger.Err(err))
			m.settings = defaultSettings()
		} else {
			m.settings = s
		}
	}

	m.applyDefaults()
	m.applyEnv()
	return nil
}

// Save writes the current settings to the config file.
func (m *Manager) Save() error {
	dir := filepath.Dir(m.configPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
		}
	}

	data, err := json.MarshalIndent(m.settings, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}
	return nil
}

func (m *Manager) applyDefaults() {
	def := defaultSettings()
	s := m.settings

	if s.DataDir == "" {
		s.DataDir = def.DataDir
	}
	if s.ListenAddr == "" {
		s.ListenAddr = def.ListenAddr
	}
	if s.Provider == "" {
		s.Provider = def.Provider
	}
	if s.OpenAIBaseURL == "" {
		s.OpenAIBaseURL = def.OpenAIBaseURL
	}
	if s.OpenRouterBaseURL == "" {
		s.OpenRouterBaseURL = def.OpenRouterBaseURL
	}
	if s.TranslateModel == "" {
		s.TranslateModel = def.TranslateModel
	}
	if s.FallbackModel == "" {
		s.FallbackModel = def.FallbackModel
	}
	if s.OCREngine == "" {
		s.OCREngine = def.OCREngine
	}
	if s.OCRModel == "" {
		s.OCRModel = def.OCRModel
	}
	if s.ContextWindow <= 0 {
		s.ContextWindow = def.ContextWindow
	}
	if s.Workers <= 0 {
		s.Workers = def.Workers
	}
	if s.ProviderConcurrency <= 0 {
		s.ProviderConcurrency = def.ProviderConcurrency
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = def.MaxRetries
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = def.TimeoutSeconds
	}
	if s.MaxPages <= 0 {
		s.MaxPages = def.MaxPages
	}
	if s.MaxFileMB <= 0 {
		s.MaxFileMB = def.MaxFileMB
	}
	if s.RetentionHours <= 0 {
		s.RetentionHours = def.RetentionHours
	}
	if s.RenderDPI <= 0 {
		s.RenderDPI = def.RenderDPI
	}
	if s.MaxRenderDim <= 0 {
		s.MaxRenderDim = def.MaxRenderDim
	}
	if s.TextDensityThreshold <= 0 {
		s.TextDensityThreshold = def.TextDensityThreshold
	}
	if s.OCRMinConfidence <= 0 {
		s.OCRMinConfidence = def.OCRMinConfidence
	}
	if s.LowConfidenceThreshold <= 0 {
		s.LowConfidenceThreshold = def.LowConfidenceThreshold
	}
	if s.FontPath == "" {
		s.FontPath = def.FontPath
	}
	if s.FontName == "" {
		s.FontName = def.FontName
	}
	if s.LogFilePath == "" {
		s.LogFilePath = def.LogFilePath
	}
	if s.LogLevel == "" {
		s.LogLevel = def.LogLevel
	}
}

func (m *Manager) applyEnv() {
	s := m.settings
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		s.OpenAIAPIKey = v
	}
	if v := os.Getenv(EnvOpenAIBaseURL); v != "" {
		s.OpenAIBaseURL = v
	}
	if v := os.Getenv(EnvOpenRouterAPIKey); v != "" {
		s.OpenRouterAPIKey = v
	}
	if v := os.Getenv(EnvAdminToken); v != "" {
		s.AdminToken = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		s.DataDir = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		s.ListenAddr = v
	}
	if v := os.Getenv(EnvFontPath); v != "" {
		s.FontPath = v
	}
}

// Get returns the current settings.
func (m *Manager) Get() *Settings {
	if m.settings == nil {
		return defaultSettings()
	}
	return m.settings
}

// Set replaces the current settings.
func (m *Manager) Set(s *Settings) {
	m.settings = s
	m.applyDefaults()
}

// ConfigPath returns the path of the config file.
func (m *Manager) ConfigPath() string {
	return m.configPath
}

// MaxFileBytes returns the acceptance file-size limit in bytes.
func (s *Settings) MaxFileBytes() int64 {
	return int64(s.MaxFileMB) * 1024 * 1024
}

// DatabasePath returns the SQLite database location under the data dir.
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.DataDir, "jobs.db")
}

// UploadDir returns the directory holding job input files.
func (s *Settings) UploadDir() string {
	return filepath.Join(s.DataDir, "uploads")
}

// OutputDir returns the directory holding translated artifacts.
func (s *Settings) OutputDir() string {
	return filepath.Join(s.DataDir, "outputs")
}

// LoggerLevel maps the configured level string to a logger.Level.
func (s *Settings) LoggerLevel() logger.Level {
	switch s.LogLevel {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

// String renders a redacted one-line summary for startup logs.
func (s *Settings) String() string {
	return "provider=" + s.Provider +
		" model=" + s.TranslateModel +
		" fallback=" + s.FallbackModel +
		" ocr=" + s.OCREngine +
		" workers=" + strconv.Itoa(s.Workers) +
		" maxPages=" + strconv.Itoa(s.MaxPages)
}
