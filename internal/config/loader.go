package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// PathsConfig holds the on-disk layout. Every relative directory elsewhere in
// the config is resolved against BaseDir.
type PathsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	WorkDir string `mapstructure:"work_dir"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	Path   string `mapstructure:"path"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`

	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type SchedulerConfig struct {
	Workers          int           `mapstructure:"workers"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"` // 0 = none
	PlanningTimeout  time.Duration `mapstructure:"planning_timeout"`
	KillGrace        time.Duration `mapstructure:"kill_grace"`
	LockFile         string        `mapstructure:"lock_file"`
}

type SandboxConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowUnsandboxed bool     `mapstructure:"allow_unsandboxed"`
	Provider         string   `mapstructure:"provider"` // auto | seatbelt | bubblewrap | none
	TempDir          string   `mapstructure:"temp_dir"`
	StateDir         string   `mapstructure:"state_dir"`
	VCSPaths         []string `mapstructure:"vcs_paths"`
}

type AgentConfig struct {
	Binary           string   `mapstructure:"binary"`
	ExtraArgs        []string `mapstructure:"extra_args"`
	CredentialHelper []string `mapstructure:"credential_helper"`
	TokenEnv         []string `mapstructure:"token_env"`
	OutputDir        string   `mapstructure:"output_dir"`
	// Planner is an optional command that turns a description (stdin) into
	// a YAML plan (stdout).
	Planner []string `mapstructure:"planner"`
}

type NotifyConfig struct {
	Dir          string        `mapstructure:"dir"`
	NATSURL      string        `mapstructure:"nats_url"`
	NATSSubject  string        `mapstructure:"nats_subject"`
	WebhookURL   string        `mapstructure:"webhook_url"`
	WebhookToken string        `mapstructure:"webhook_token"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Truncate     int           `mapstructure:"truncate"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	base := filepath.Join(home, ".nightshift")

	v.SetDefault("paths.base_dir", base)
	v.SetDefault("paths.work_dir", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "database/nightshift.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "nightshift")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "nightshift")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stderr"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.workers", 3)
	v.SetDefault("scheduler.poll_interval", time.Second)
	v.SetDefault("scheduler.execution_timeout", time.Duration(0))
	v.SetDefault("scheduler.planning_timeout", 120*time.Second)
	v.SetDefault("scheduler.kill_grace", 10*time.Second)
	v.SetDefault("scheduler.lock_file", "scheduler.lock")

	v.SetDefault("sandbox.enabled", true)
	v.SetDefault("sandbox.allow_unsandboxed", false)
	v.SetDefault("sandbox.provider", "auto")
	v.SetDefault("sandbox.temp_dir", os.TempDir())
	v.SetDefault("sandbox.state_dir", filepath.Join(home, ".claude"))
	v.SetDefault("sandbox.vcs_paths", []string{"/dev/null", "/dev/tty", filepath.Join(home, ".config", "gh")})

	v.SetDefault("agent.binary", "claude")
	v.SetDefault("agent.extra_args", []string{})
	v.SetDefault("agent.credential_helper", []string{"gh", "auth", "token"})
	v.SetDefault("agent.token_env", []string{"GH_TOKEN", "GITHUB_TOKEN"})
	v.SetDefault("agent.output_dir", "output")
	v.SetDefault("agent.planner", []string{})

	v.SetDefault("notify.dir", "notifications")
	v.SetDefault("notify.nats_url", "")
	v.SetDefault("notify.nats_subject", "nightshift.tasks.finished")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_token", "")
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.truncate", 500)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7878)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("auth.admin_api_key", "")
	v.SetDefault("auth.allowed_origins", []string{})
}

// Load reads the optional config file at path (empty = defaults + env only).
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("NIGHTSHIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() {
	c.Paths.BaseDir = expandHome(c.Paths.BaseDir)
	resolve := func(p string) string {
		p = expandHome(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.Paths.BaseDir, p)
	}
	c.Database.Path = resolve(c.Database.Path)
	c.Scheduler.LockFile = resolve(c.Scheduler.LockFile)
	c.Agent.OutputDir = resolve(c.Agent.OutputDir)
	c.Notify.Dir = resolve(c.Notify.Dir)
	c.Sandbox.StateDir = expandHome(c.Sandbox.StateDir)
	c.Paths.WorkDir = expandHome(c.Paths.WorkDir)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be >= 1, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive, got %s", c.Scheduler.PollInterval)
	}
	if c.Scheduler.ExecutionTimeout < 0 {
		return fmt.Errorf("scheduler.execution_timeout must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	switch c.Sandbox.Provider {
	case "auto", "seatbelt", "bubblewrap", "none":
	default:
		return fmt.Errorf("sandbox.provider must be auto, seatbelt, bubblewrap or none, got %q", c.Sandbox.Provider)
	}
	return nil
}

// EnsureDirs creates the directories the daemon writes into.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.Paths.BaseDir, c.Agent.OutputDir, c.Notify.Dir}
	if c.Database.Driver == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
