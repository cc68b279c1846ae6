package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Config represents the TOML configuration structure
type Config struct {
	Server struct {
		Host    string   `toml:"host"`
		Origins []string `toml:"origins"`
	} `toml:"server"`

	Sessions struct {
		DB           string `toml:"db"`
		Language     string `toml:"language"`
		SystemPrompt string `toml:"system_prompt"`
		NumPredict   int    `toml:"num_predict"`
	} `toml:"sessions"`

	Logging struct {
		Debug bool   `toml:"debug"`
		File  string `toml:"file"`
	} `toml:"logging"`
}

var (
	configMu   sync.Mutex
	configOnce sync.Once
	config     *Config
	configPath string
)

// GetConfigPaths returns the list of possible config file paths for the current OS
func GetConfigPaths() []string {
	var paths []string

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, "replagent", "config.toml"))
		}
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			paths = append(paths, filepath.Join(userProfile, ".replagent", "config.toml"))
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err == nil {
			paths = append(paths,
				filepath.Join(home, "Library", "Application Support", "replagent", "config.toml"),
				filepath.Join(home, ".config", "replagent", "config.toml"),
				filepath.Join(home, ".replagent", "config.toml"),
			)
		}
	default: // Linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			paths = append(paths, filepath.Join(xdgConfig, "replagent", "config.toml"))
		}
		home, err := os.UserHomeDir()
		if err == nil {
			paths = append(paths,
				filepath.Join(home, ".config", "replagent", "config.toml"),
				filepath.Join(home, ".replagent", "config.toml"),
			)
		}
		paths = append(paths, "/etc/replagent/config.toml")
	}

	return paths
}

// loadConfig loads the first available configuration file
func loadConfig() (*Config, string, error) {
	for _, path := range GetConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			var cfg Config
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, "", fmt.Errorf("error parsing config file %s: %w", path, err)
			}
			return &cfg, path, nil
		}
	}
	return nil, "", nil
}

// ReloadConfig forgets the configuration file read so far. The next lookup
// searches the config paths again.
func ReloadConfig() {
	configMu.Lock()
	defer configMu.Unlock()
	configOnce = sync.Once{}
	config, configPath = nil, ""
}

// ConfigPath returns the path of the configuration file in use, if any.
func ConfigPath() string {
	GetConfigValue("")
	configMu.Lock()
	defer configMu.Unlock()
	return configPath
}

// GetConfigValue returns the value for a given environment variable key from the config file
func GetConfigValue(key string) string {
	configMu.Lock()
	defer configMu.Unlock()

	configOnce.Do(func() {
		var err error
		config, configPath, err = loadConfig()
		if err != nil {
			slog.Warn("failed to load config file", "error", err)
		} else if config != nil {
			slog.Debug("loaded config file", "path", configPath)
		}
	})

	if config == nil {
		return ""
	}

	// Map environment variables to config values
	switch key {
	case "REPLAGENT_HOST":
		return config.Server.Host
	case "REPLAGENT_ORIGINS":
		return strings.Join(config.Server.Origins, ",")
	case "REPLAGENT_DB":
		return config.Sessions.DB
	case "REPLAGENT_LANGUAGE":
		return config.Sessions.Language
	case "REPLAGENT_SYSTEM_PROMPT":
		return config.Sessions.SystemPrompt
	case "REPLAGENT_NUM_PREDICT":
		if config.Sessions.NumPredict > 0 {
			return strconv.Itoa(config.Sessions.NumPredict)
		}
	case "REPLAGENT_DEBUG":
		if config.Logging.Debug {
			return "true"
		}
	case "REPLAGENT_LOG_FILE":
		return config.Logging.File
	}

	return ""
}

// GenerateExampleConfig returns a commented example TOML configuration
func GenerateExampleConfig() string {
	return `# replagent configuration file
# Environment variables take precedence over the values below.

[server]
# Network binding address (default: "127.0.0.1:11535")
host = "127.0.0.1:11535"
# Additional allowed CORS origins
origins = ["http://localhost:3000"]

[sessions]
# SQLite session database; sessions are kept in memory when empty
db = "/var/lib/replagent/sessions.db"
# Info string of the code fence (default: "python")
language = "python"
# File replacing the default system prompt
# system_prompt = "/path/to/prompt.txt"
# Maximum number of tokens of a generated turn (default: 512)
num_predict = 512

[logging]
# Enable debug logging (default: false)
debug = false
# Rotating JSON log file
# file = "/var/log/replagent/server.log"
`
}
