// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	LLM() LLMRouterConfig
	Planner() PlannerConfig
	Browser() BrowserConfig
	Executor() ExecutorConfig

	SetBrowserHeadless(bool)
	SetBrowserAttach(bool)
	SetBrowserCDPURL(string)
	SetExecutorMaxSteps(int)
	SetExecutorScreenshotDir(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig  `mapstructure:"database" yaml:"database"`
	LLMCfg      LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	PlannerCfg  PlannerConfig   `mapstructure:"planner" yaml:"planner"`
	BrowserCfg  BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	ExecutorCfg ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) LLM() LLMRouterConfig     { return c.LLMCfg }
func (c *Config) Planner() PlannerConfig   { return c.PlannerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Executor() ExecutorConfig { return c.ExecutorCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)         { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserAttach(b bool)           { c.BrowserCfg.Attach = b }
func (c *Config) SetBrowserCDPURL(u string)         { c.BrowserCfg.CDPURL = u }
func (c *Config) SetExecutorMaxSteps(n int)         { c.ExecutorCfg.MaxSteps = n }
func (c *Config) SetExecutorScreenshotDir(d string) { c.ExecutorCfg.ScreenshotDir = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. Run history is only
// persisted when URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderOllama    LLMProvider = "ollama"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerSecond    float64                   `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// PlannerConfig tunes the planning agent.
type PlannerConfig struct {
	Temperature         float64       `mapstructure:"temperature" yaml:"temperature"`
	HistoryWindow       int           `mapstructure:"history_window" yaml:"history_window"`
	CompletionThreshold float64       `mapstructure:"completion_threshold" yaml:"completion_threshold"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	PlanDir             string        `mapstructure:"plan_dir" yaml:"plan_dir"`
}

// BrowserConfig holds settings for launching or attaching to a browser.
type BrowserConfig struct {
	Headless         bool           `mapstructure:"headless" yaml:"headless"`
	Attach           bool           `mapstructure:"attach" yaml:"attach"`
	CDPURL           string         `mapstructure:"cdp_url" yaml:"cdp_url"`
	AttachWait       time.Duration  `mapstructure:"attach_wait" yaml:"attach_wait"`
	ExecutablePath   string         `mapstructure:"executable_path" yaml:"executable_path"`
	UserDataDir      string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	ProfileDirectory string         `mapstructure:"profile_directory" yaml:"profile_directory"`
	UserAgent        string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args             []string       `mapstructure:"args" yaml:"args"`
	Viewport         map[string]int `mapstructure:"viewport" yaml:"viewport"`
	ActionTimeout    time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	SettleTime       time.Duration  `mapstructure:"settle_time" yaml:"settle_time"`
	Debug            bool           `mapstructure:"debug" yaml:"debug"`
}

// ExecutorConfig tunes the executing agent and the iterative loop.
type ExecutorConfig struct {
	MaxSteps          int           `mapstructure:"max_steps" yaml:"max_steps"`
	ScreenshotDir     string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	AlwaysScreenshot  bool          `mapstructure:"always_screenshot" yaml:"always_screenshot"`
	FullPage          bool          `mapstructure:"full_page" yaml:"full_page"`
	MinConfidence     float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	DefaultWait       time.Duration `mapstructure:"default_wait" yaml:"default_wait"`
	ScrollPixels      int           `mapstructure:"scroll_pixels" yaml:"scroll_pixels"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AbortOnFailedStep bool          `mapstructure:"abort_on_failed_step" yaml:"abort_on_failed_step"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tandem-cli")
	v.SetDefault("logger.log_file", "tandem.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gpt-4o-mini")
	v.SetDefault("llm.default_powerful_model", "gpt-4o")
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.models", map[string]interface{}{
		"gpt-4o": map[string]interface{}{
			"provider":    string(ProviderOpenAI),
			"model":       "gpt-4o",
			"api_timeout": "90s",
			"max_tokens":  2048,
		},
		"gpt-4o-mini": map[string]interface{}{
			"provider":    string(ProviderOpenAI),
			"model":       "gpt-4o-mini",
			"api_timeout": "60s",
			"max_tokens":  1024,
		},
		"gemini-flash": map[string]interface{}{
			"provider":    string(ProviderGemini),
			"model":       "gemini-2.5-flash",
			"api_timeout": "60s",
			"max_tokens":  2048,
		},
	})

	// -- Planner --
	v.SetDefault("planner.temperature", 0.3)
	v.SetDefault("planner.history_window", 10)
	v.SetDefault("planner.completion_threshold", 0.7)
	v.SetDefault("planner.request_timeout", "90s")
	v.SetDefault("planner.plan_dir", ".")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.attach", false)
	v.SetDefault("browser.cdp_url", "http://localhost:9222")
	v.SetDefault("browser.attach_wait", "90s")
	v.SetDefault("browser.profile_directory", "Default")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.settle_time", "500ms")
	v.SetDefault("browser.debug", false)

	// -- Executor --
	v.SetDefault("executor.max_steps", 50)
	v.SetDefault("executor.screenshot_dir", "screenshots")
	v.SetDefault("executor.always_screenshot", true)
	v.SetDefault("executor.full_page", false)
	v.SetDefault("executor.min_confidence", 0.5)
	v.SetDefault("executor.default_wait", "2s")
	v.SetDefault("executor.scroll_pixels", 500)
	v.SetDefault("executor.shutdown_timeout", "15s")
	v.SetDefault("executor.abort_on_failed_step", true)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.applyProviderKeys()
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyProviderKeys fills empty model API keys from the conventional provider env vars.
func (c *Config) applyProviderKeys() {
	envByProvider := map[LLMProvider]string{
		ProviderOpenAI:    "OPENAI_API_KEY",
		ProviderGemini:    "GEMINI_API_KEY",
		ProviderAnthropic: "ANTHROPIC_API_KEY",
	}
	for name, model := range c.LLMCfg.Models {
		if model.APIKey != "" {
			continue
		}
		if env, ok := envByProvider[model.Provider]; ok {
			model.APIKey = os.Getenv(env)
			c.LLMCfg.Models[name] = model
		}
	}
}

// expandPaths resolves "~" in every user-supplied filesystem path.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.BrowserCfg.UserDataDir,
		&c.BrowserCfg.ExecutablePath,
		&c.ExecutorCfg.ScreenshotDir,
		&c.PlannerCfg.PlanDir,
		&c.LoggerCfg.LogFile,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.PlannerCfg.Validate(); err != nil {
		return fmt.Errorf("planner configuration invalid: %w", err)
	}
	if c.BrowserCfg.Attach && c.BrowserCfg.CDPURL == "" {
		return fmt.Errorf("browser.cdp_url is required when browser.attach is enabled")
	}
	if c.BrowserCfg.ActionTimeout <= 0 {
		return fmt.Errorf("browser.action_timeout must be a positive duration")
	}
	if c.ExecutorCfg.MaxSteps <= 0 {
		return fmt.Errorf("executor.max_steps must be a positive integer")
	}
	if c.ExecutorCfg.MinConfidence < 0.0 || c.ExecutorCfg.MinConfidence > 1.0 {
		return fmt.Errorf("executor.min_confidence must be between 0.0 and 1.0")
	}
	return nil
}

// Validate checks that both routing tiers resolve to a configured model.
func (l *LLMRouterConfig) Validate() error {
	if l.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	for _, name := range []string{l.DefaultFastModel, l.DefaultPowerfulModel} {
		if name == "" {
			return fmt.Errorf("default_fast_model and default_powerful_model are required")
		}
		if _, ok := l.Models[name]; !ok {
			return fmt.Errorf("model %q is not defined under llm.models", name)
		}
	}
	return nil
}

// Validate checks the PlannerConfig settings.
func (p *PlannerConfig) Validate() error {
	if p.Temperature < 0.0 || p.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if p.HistoryWindow <= 0 {
		return fmt.Errorf("history_window must be greater than 0")
	}
	if p.CompletionThreshold < 0.0 || p.CompletionThreshold > 1.0 {
		return fmt.Errorf("completion_threshold must be between 0.0 and 1.0")
	}
	return nil
}
