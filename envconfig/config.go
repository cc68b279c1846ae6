package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Host returns the scheme and host of the replagent server. Host can be
// configured via the REPLAGENT_HOST environment variable.
// Default is scheme "http" and host "127.0.0.1:11535"
func Host() *url.URL {
	defaultPort := "11535"

	s := Var("REPLAGENT_HOST")
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins returns a list of allowed origins. AllowedOrigins can be
// configured via the REPLAGENT_ORIGINS environment variable.
func AllowedOrigins() (origins []string) {
	if s := Var("REPLAGENT_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// Home returns the directory holding replagent state, ~/.replagent.
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".replagent"
	}
	return filepath.Join(home, ".replagent")
}

// Language returns the info string of the code fence a turn must open.
// Configured via REPLAGENT_LANGUAGE, default "python".
func Language() string {
	if s := Var("REPLAGENT_LANGUAGE"); s != "" {
		return s
	}
	return "python"
}

// SystemPrompt returns the system prompt read from the file named by
// REPLAGENT_SYSTEM_PROMPT. ok is false when the variable is not set.
func SystemPrompt() (prompt string, ok bool, err error) {
	path := Var("REPLAGENT_SYSTEM_PROMPT")
	if path == "" {
		return "", false, nil
	}

	bts, err := os.ReadFile(path)
	if err != nil {
		return "", true, err
	}
	return string(bts), true, nil
}

// LogLevel returns the log level from REPLAGENT_DEBUG: info when unset or
// false, debug when true or 1, trace when 2 or higher.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("REPLAGENT_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

func Bool(k string) func() bool {
	return func() bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}

			return b
		}

		return false
	}
}

func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}

		return defaultValue
	}
}

var (
	// Debug enabled additional debug information.
	Debug = Bool("REPLAGENT_DEBUG")
	// DB is the path of the SQLite session database. Sessions are kept in
	// memory when it is empty.
	DB = String("REPLAGENT_DB")
	// LogFile is a path that receives a rotating JSON copy of the log.
	LogFile = String("REPLAGENT_LOG_FILE")
	// NumPredict caps the number of tokens of one generated turn.
	NumPredict = Uint("REPLAGENT_NUM_PREDICT", 512)
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"REPLAGENT_DEBUG":         {"REPLAGENT_DEBUG", Debug(), "Show additional debug information (e.g. REPLAGENT_DEBUG=1)"},
		"REPLAGENT_HOST":          {"REPLAGENT_HOST", Host(), "IP Address for the replagent server (default 127.0.0.1:11535)"},
		"REPLAGENT_ORIGINS":       {"REPLAGENT_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"REPLAGENT_DB":            {"REPLAGENT_DB", DB(), "Path of the SQLite session database (default in memory)"},
		"REPLAGENT_LOG_FILE":      {"REPLAGENT_LOG_FILE", LogFile(), "Also write logs as JSON to this file, rotated"},
		"REPLAGENT_LANGUAGE":      {"REPLAGENT_LANGUAGE", Language(), "Language of the code fence (default python)"},
		"REPLAGENT_SYSTEM_PROMPT": {"REPLAGENT_SYSTEM_PROMPT", Var("REPLAGENT_SYSTEM_PROMPT"), "Path of a file replacing the default system prompt"},
		"REPLAGENT_NUM_PREDICT":   {"REPLAGENT_NUM_PREDICT", NumPredict(), "Maximum number of tokens of a generated turn (default 512)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Var returns an environment variable stripped of leading and trailing quotes
// or spaces. Unset variables fall back to the configuration file.
func Var(key string) string {
	if s, ok := os.LookupEnv(key); ok {
		return strings.Trim(strings.TrimSpace(s), "\"'")
	}
	return strings.Trim(strings.TrimSpace(GetConfigValue(key)), "\"'")
}
