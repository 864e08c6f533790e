package config

import (
	"strings"
	"time"
	"unicode"
)

func (c *Config) GetBotDir() string {
	return c.v.GetString("bot_dir")
}

func (c *Config) GetMarkerFile() string {
	return c.v.GetString("marker_file")
}

// GetPython returns the interpreter override, empty when python3/python
// should be looked up on PATH.
func (c *Config) GetPython() string {
	return c.v.GetString("python")
}

func (c *Config) GetMinPythonVersion() string {
	return c.v.GetString("min_python_version")
}

// Virtual environment
// -----
func (c *Config) GetVenvDir() string {
	return c.v.GetString("venv_dir")
}

func (c *Config) GetRequirementsFile() string {
	return c.v.GetString("requirements_file")
}

func (c *Config) GetUpgradePip() bool {
	return c.v.GetBool("upgrade_pip")
}

func (c *Config) GetForceInstall() bool {
	return c.v.GetBool("force_install")
}

// Environment
// -----
func (c *Config) GetEnvFile() string {
	return c.v.GetString("env_file")
}

func (c *Config) GetEnvOverride() bool {
	return c.v.GetBool("env_override")
}

func (c *Config) GetTokenVar() string {
	return c.v.GetString("token_var")
}

// GetOptionalVars accepts a YAML list or, from the environment, names
// separated by commas or spaces.
func (c *Config) GetOptionalVars() []string {
	sep := func(r rune) bool { return r == ',' || unicode.IsSpace(r) }

	var vars []string
	for _, entry := range c.v.GetStringSlice("optional_vars") {
		vars = append(vars, strings.FieldsFunc(entry, sep)...)
	}
	return vars
}

func (c *Config) GetVerifyToken() bool {
	return c.v.GetBool("verify_token")
}

func (c *Config) GetTelegramAPIEndpoint() string {
	return c.v.GetString("telegram_api_endpoint")
}

// Hand-off
// -----
func (c *Config) GetEntryModule() string {
	return c.v.GetString("entry_module")
}

func (c *Config) GetDataDir() string {
	return c.v.GetString("data_dir")
}

func (c *Config) GetLogDir() string {
	return c.v.GetString("log_dir")
}

func (c *Config) GetStatePath() string {
	return c.v.GetString("state_path")
}

// GetCommandTimeout bounds each interpreter, venv and pip invocation. Zero
// disables the limit.
func (c *Config) GetCommandTimeout() time.Duration {
	return c.v.GetDuration("command_timeout")
}

// Set overrides a key for the rest of this run. Nothing is written back to
// the config file.
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}
