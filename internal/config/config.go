// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Rules() RulesConfig
	Workspace() WorkspaceConfig
	Report() ReportConfig

	// Engine Setters
	SetEngineTolerance(int)
	SetEngineInvokeUnknownCallbacks(bool)

	// Workspace Setters
	SetWorkspaceConcurrency(int)
	SetWorkspaceGitRef(string)

	// Report Setters
	SetReportFormat(string)
	SetReportOutput(string)

	// Rules Setters
	SetRulesPath(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	EngineCfg    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	RulesCfg     RulesConfig     `mapstructure:"rules" yaml:"rules"`
	WorkspaceCfg WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	ReportCfg    ReportConfig    `mapstructure:"report" yaml:"report"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig       { return c.EngineCfg }
func (c *Config) Rules() RulesConfig         { return c.RulesCfg }
func (c *Config) Workspace() WorkspaceConfig { return c.WorkspaceCfg }
func (c *Config) Report() ReportConfig       { return c.ReportCfg }

// --- Interface Method Implementations (Setters) ---

// Engine Setters
func (c *Config) SetEngineTolerance(n int) { c.EngineCfg.Tolerance = n }
func (c *Config) SetEngineInvokeUnknownCallbacks(b bool) {
	c.EngineCfg.InvokeUnknownCallbacks = b
}

// Workspace Setters
func (c *Config) SetWorkspaceConcurrency(n int) { c.WorkspaceCfg.Concurrency = n }
func (c *Config) SetWorkspaceGitRef(ref string) { c.WorkspaceCfg.GitRef = ref }

// Report Setters
func (c *Config) SetReportFormat(f string) { c.ReportCfg.Format = f }
func (c *Config) SetReportOutput(o string) { c.ReportCfg.Output = o }

// Rules Setters
func (c *Config) SetRulesPath(p string) { c.RulesCfg.Path = p }

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

type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig tunes the abstract interpreter.
type EngineConfig struct {
	// MaxCallDepth bounds nested calls; deeper calls return a symbolic result.
	MaxCallDepth int `mapstructure:"max_call_depth" yaml:"max_call_depth"`
	// MaxRecursion is how many times one function may re-enter itself on the call stack.
	MaxRecursion int `mapstructure:"max_recursion" yaml:"max_recursion"`
	// Tolerance is compared against issue severity weights; heavier issues abort the run.
	Tolerance              int  `mapstructure:"tolerance" yaml:"tolerance"`
	InvokeUnknownCallbacks bool `mapstructure:"invoke_unknown_callbacks" yaml:"invoke_unknown_callbacks"`
	MemoryBudgetMB         int  `mapstructure:"memory_budget_mb" yaml:"memory_budget_mb"`
	CloneDepth             int  `mapstructure:"clone_depth" yaml:"clone_depth"`
	AggregateDepth         int  `mapstructure:"aggregate_depth" yaml:"aggregate_depth"`
}

type RulesConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	UseDefaults bool   `mapstructure:"use_defaults" yaml:"use_defaults"`
}

type WorkspaceConfig struct {
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency"`
	Exclude     []string `mapstructure:"exclude" yaml:"exclude"`
	GitRef      string   `mapstructure:"git_ref" yaml:"git_ref"`
}

type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-sast")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.max_call_depth", 24)
	v.SetDefault("engine.max_recursion", 1)
	v.SetDefault("engine.tolerance", 3)
	v.SetDefault("engine.invoke_unknown_callbacks", true)
	v.SetDefault("engine.memory_budget_mb", 2048)
	v.SetDefault("engine.clone_depth", 3)
	v.SetDefault("engine.aggregate_depth", 5)

	// -- Rules --
	v.SetDefault("rules.path", "")
	v.SetDefault("rules.use_defaults", true)

	// -- Workspace --
	v.SetDefault("workspace.concurrency", 8)
	v.SetDefault("workspace.exclude", []string{"**/node_modules/**", "**/.git/**", "**/vendor/**", "**/*.min.js"})
	v.SetDefault("workspace.git_ref", "")

	// -- Report --
	v.SetDefault("report.format", "sarif")
	v.SetDefault("report.output", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "SCALPEL_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the URL if Unmarshal didn't pick it up
	if cfg.DatabaseCfg.URL == "" {
		cfg.DatabaseCfg.URL = os.Getenv("SCALPEL_DATABASE_URL")
	}

	if cfg.RulesCfg.Path != "" {
		expanded, err := homedir.Expand(cfg.RulesCfg.Path)
		if err != nil {
			return nil, fmt.Errorf("could not expand rules path: %w", err)
		}
		cfg.RulesCfg.Path = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if c.WorkspaceCfg.Concurrency <= 0 {
		return fmt.Errorf("workspace.concurrency must be a positive integer")
	}
	switch strings.ToLower(c.ReportCfg.Format) {
	case "sarif", "json":
	default:
		return fmt.Errorf("report.format must be one of sarif, json (got %q)", c.ReportCfg.Format)
	}
	if !c.RulesCfg.UseDefaults && c.RulesCfg.Path == "" {
		return fmt.Errorf("rules.path is required when rules.use_defaults is false")
	}
	return nil
}

// Validate checks the EngineConfig settings.
func (e *EngineConfig) Validate() error {
	if e.MaxCallDepth <= 0 {
		return fmt.Errorf("max_call_depth must be greater than 0")
	}
	if e.MaxRecursion < 0 {
		return fmt.Errorf("max_recursion must not be negative")
	}
	if e.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative")
	}
	if e.CloneDepth <= 0 {
		return fmt.Errorf("clone_depth must be greater than 0")
	}
	if e.AggregateDepth <= 0 || e.AggregateDepth > 5 {
		return fmt.Errorf("aggregate_depth must be between 1 and 5")
	}
	if e.MemoryBudgetMB < 0 {
		return fmt.Errorf("memory_budget_mb must not be negative")
	}
	return nil
}
