package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. NETOPS_FLOW_DATABASE_PATH
const EnvPrefix = "NETOPS_FLOW"

// Config holds the configuration for the engine, the worker and the CLI
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // console or json
	} `mapstructure:"log"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Temporal struct {
		HostPort     string        `mapstructure:"host_port"`
		Namespace    string        `mapstructure:"namespace"`
		TaskQueue    string        `mapstructure:"task_queue"`
		JobTaskQueue string        `mapstructure:"job_task_queue"` // consumed by the fleet job workers
		RunTimeout   time.Duration `mapstructure:"run_timeout"`
	} `mapstructure:"temporal"`
	Engine struct {
		NodeTimeout        time.Duration `mapstructure:"node_timeout"`
		RejectNoEntryPoint bool          `mapstructure:"reject_no_entry_point"`
	} `mapstructure:"engine"`
}

// Options locate the configuration sources
type Options struct {
	ConfigFile string // explicit file; empty searches . and ./config for netops-flow.yaml
	EnvFile    string // optional .env file loaded before the environment is read
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("database.path", "netops-flow.db")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "netops-flow-runs")
	v.SetDefault("temporal.job_task_queue", "netops-flow-jobs")
	v.SetDefault("temporal.run_timeout", 30*time.Minute)
	v.SetDefault("engine.node_timeout", 5*time.Minute)
	v.SetDefault("engine.reject_no_entry_point", false)
}

// Load reads the configuration from defaults, an optional file and the environment.
// Environment variables win over the file.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("netops-flow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Temporal.TaskQueue == "" {
		errs = append(errs, errors.New("temporal.task_queue is required"))
	}
	if c.Engine.NodeTimeout < 0 {
		errs = append(errs, errors.New("engine.node_timeout must not be negative"))
	}
	if c.Temporal.RunTimeout <= 0 {
		errs = append(errs, errors.New("temporal.run_timeout must be positive"))
	}
	return errors.Join(errs...)
}
