package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-version"
	"github.com/spf13/viper"
)

// logRetention is how long launcher log files are kept before pruning.
const logRetention = 7 * 24 * time.Hour

type Config struct {
	v       *viper.Viper
	Logger  *log.Logger
	logFile *os.File
}

// NewConfig loads the configuration from defaults, an optional botlauncher.yaml
// and BOTLAUNCHER_* environment variables. Flags bound to v by the caller take
// precedence over all of them.
func NewConfig(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	setDefaults(v)

	if err := bindEnvs(v); err != nil {
		return nil, fmt.Errorf("error binding environment variables: %w", err)
	}

	logger := newLogger(os.Stderr)

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("botlauncher")
		v.SetConfigType("yaml")
		if dir := v.GetString("bot_dir"); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	// A missing config file is fine, everything has a default or an env var.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		logger.Debug("no config file found, continuing with envs and defaults")
	}

	newCfg := &Config{
		v:      v,
		Logger: logger,
	}

	if err := newCfg.applyLogLevel(); err != nil {
		return nil, err
	}

	if err := validateConfig(newCfg); err != nil {
		return nil, err
	}

	return newCfg, nil
}

func newLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "botlauncher",
	})
}

func (c *Config) applyLogLevel() error {
	lvl, err := log.ParseLevel(c.v.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.v.GetString("log_level"), err)
	}
	c.Logger.SetLevel(lvl)
	return nil
}

// OpenLogFile starts mirroring the logger into a fresh timestamped file under
// the configured log directory. Relative log directories are resolved against
// root. Old log files are pruned first.
func (c *Config) OpenLogFile(root string) error {
	dir := c.ResolvePath(root, c.GetLogDir())

	file, err := newLogFile(dir)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	if err := pruneOldLogFiles(dir, file.Name()); err != nil {
		// Leave the new file in place, the launch can still go ahead.
		c.Logger.Warn("failed to prune old log files", "dir", dir, "err", err)
	}

	c.logFile = file
	c.Logger.SetOutput(io.MultiWriter(os.Stderr, file))
	c.Logger.Debug("logging to file", "path", file.Name())
	return nil
}

// CloseLogFile detaches and closes the log file opened by OpenLogFile.
func (c *Config) CloseLogFile() error {
	if c.logFile == nil {
		return nil
	}
	c.Logger.SetOutput(os.Stderr)
	err := c.logFile.Close()
	c.logFile = nil
	return err
}

// ResolvePath returns p unchanged when absolute, otherwise joined onto base.
func (c *Config) ResolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// newLogFile generates a new log file
func newLogFile(dir string) (*os.File, error) {
	if dir == "" {
		return nil, fmt.Errorf("log directory is not set")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("botlauncher_%s.log", time.Now().Format("20060102_150405"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// pruneOldLogFiles removes launcher log files older than logRetention,
// never touching keep.
func pruneOldLogFiles(dir, keep string) error {
	logFiles, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	for _, file := range logFiles {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "botlauncher_") {
			continue
		}

		path := filepath.Join(dir, file.Name())
		if path == keep {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > logRetention {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove old log file %s: %w", file.Name(), err)
			}
		}
	}

	return nil
}

// NewMockConfig creates a mock configuration for testing
func NewMockConfig(kv map[string]interface{}) *Config {
	v := viper.New()
	setDefaults(v)
	for k, val := range kv {
		v.Set(k, val)
	}
	cfg := &Config{
		v:      v,
		Logger: newLogger(os.Stderr),
	}
	if err := cfg.applyLogLevel(); err != nil {
		cfg.Logger.Warn("ignoring mock log level", "err", err)
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("marker_file", "bot.py")
	v.SetDefault("min_python_version", "3.10")
	v.SetDefault("venv_dir", ".venv")
	v.SetDefault("requirements_file", "requirements.txt")
	v.SetDefault("upgrade_pip", false)
	v.SetDefault("force_install", false)
	v.SetDefault("env_file", ".env")
	v.SetDefault("env_override", true)
	v.SetDefault("token_var", "BOT_TOKEN")
	v.SetDefault("optional_vars", []string{"OPENAI_API_KEY"})
	v.SetDefault("entry_module", "bot.bot")
	v.SetDefault("data_dir", "data")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("log_level", "info")
	v.SetDefault("state_path", ".botlauncher.db")
	v.SetDefault("verify_token", false)
	v.SetDefault("telegram_api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("command_timeout", 15*time.Minute)
}

// bindEnvs binds environment variables to viper keys
func bindEnvs(v *viper.Viper) error {
	keys := []string{
		"config",
		"bot_dir",
		"marker_file",
		"python",
		"min_python_version",
		"venv_dir",
		"requirements_file",
		"upgrade_pip",
		"force_install",
		"env_file",
		"env_override",
		"token_var",
		"optional_vars",
		"entry_module",
		"data_dir",
		"log_dir",
		"log_level",
		"state_path",
		"verify_token",
		"telegram_api_endpoint",
		"command_timeout",
	}

	for _, key := range keys {
		env := "BOTLAUNCHER_" + strings.ToUpper(key)
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("error binding %s environment variable: %w", key, err)
		}
	}
	return nil
}

// validateConfig validates that all required configuration fields are present
func validateConfig(cfg *Config) error {
	if cfg.GetTokenVar() == "" {
		return fmt.Errorf("token_var is required (set BOTLAUNCHER_TOKEN_VAR)")
	}

	if cfg.GetEntryModule() == "" {
		return fmt.Errorf("entry_module is required (set BOTLAUNCHER_ENTRY_MODULE)")
	}

	if cfg.GetMarkerFile() == "" {
		return fmt.Errorf("marker_file is required (set BOTLAUNCHER_MARKER_FILE)")
	}

	if _, err := version.NewVersion(cfg.GetMinPythonVersion()); err != nil {
		return fmt.Errorf("min_python_version %q is not a version: %w", cfg.GetMinPythonVersion(), err)
	}

	if cfg.GetCommandTimeout() < 0 {
		return fmt.Errorf("command_timeout must not be negative")
	}

	if !strings.Contains(cfg.GetTelegramAPIEndpoint(), "%s") {
		cfg.Logger.Warn("telegram_api_endpoint has no %s placeholders, token verification will fail",
			"endpoint", cfg.GetTelegramAPIEndpoint())
	}

	return nil
}
