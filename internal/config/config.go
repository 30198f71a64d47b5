// Package config loads the process-wide, read-only server configuration
// from environment variables with a YAML file as the base layer, following
// the teacher's profile.Store idiom (a typed struct plus gopkg.in/yaml.v3
// serialization) inverted so that environment variables are authoritative.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServerName     = "winbuildd"
	ProtocolVersion       = "2024-11-05"
	defaultAuthSentinel   = "default-token-change-me"
	defaultCommandTimeout = 5 * 60 * 1000  // 5 min, ms
	defaultMaxTimeout     = 30 * 60 * 1000 // 30 min, ms
	defaultSSHTimeout     = 30 * 1000      // 30s, ms
	defaultMaxCmdLength   = 8192
	defaultRateRequests   = 100
	defaultRateWindowMs   = 60 * 1000
	defaultEncodingBytes  = 10 * 1024 * 1024
	defaultLogMaxFileSize = 5 * 1024 * 1024
)

// RateLimit is the {maxRequests, windowMs} pair from §3/§4.2. A zero
// MaxRequests disables rate limiting entirely.
type RateLimit struct {
	MaxRequests int `yaml:"maxRequests"`
	WindowMs    int `yaml:"windowMs"`
}

// Modes selects the two security-validator escalation levels that can be
// enabled in addition to the default "normal" mode.
type Modes struct {
	Dangerous   bool `yaml:"dangerous"`
	DevCommands bool `yaml:"devCommands"`
}

// Config is the full process-wide configuration, loaded once at startup and
// never mutated afterward (§3 invariant: "configuration is read-only after
// boot; changes require a restart").
type Config struct {
	AuthToken      string   `yaml:"authToken"`
	AllowedIPs     []string `yaml:"allowedIPs"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	RateLimit RateLimit `yaml:"rateLimit"`

	CommandTimeoutMs    int `yaml:"commandTimeoutMs"`
	MaxAllowedTimeoutMs int `yaml:"maxAllowedTimeoutMs"`
	SSHTimeoutMs        int `yaml:"sshTimeoutMs"`

	AllowedBuildPaths             []string `yaml:"allowedBuildPaths"`
	AllowedBatchDirs              []string `yaml:"allowedBatchDirs"`
	DevCommandPaths               []string `yaml:"devCommandPaths"`
	AllowedDevCommands            []string `yaml:"allowedDevCommands"`
	AllowedFileEncodingExtensions []string `yaml:"allowedFileEncodingExtensions"`
	MaxEncodingBytes              int      `yaml:"maxEncodingBytes"`

	RemoteUsername   string   `yaml:"remoteUsername"`
	RemotePassword   string   `yaml:"remotePassword"`
	KnownRemoteHosts []string `yaml:"knownRemoteHosts"`

	Modes Modes `yaml:"modes"`

	MaxCommandLength int `yaml:"maxCommandLength"`

	ServerVersion   string `yaml:"serverVersion"`
	ProtocolVersion string `yaml:"protocolVersion"`
	ServerName      string `yaml:"serverName"`

	PreferredPort int `yaml:"preferredPort"`

	// LogMaxFileSizeBytes is the rotation threshold for the on-disk log
	// file (§4.8/§6); operators running under disk pressure can shrink it
	// below the 5 MiB default.
	LogMaxFileSizeBytes int `yaml:"logMaxFileSizeBytes"`

	EncryptionKey string `yaml:"-"` // never serialized back to the file

	// NordVPNEnabled/NordVPNHosts name the configured SSH remote fan-out
	// hosts; kept as a slice of "host" entries, not a VPN integration.
	NordVPNEnabled bool     `yaml:"nordvpnEnabled"`
	NordVPNHosts   []string `yaml:"nordvpnHosts"`
}

// Load builds the Config from a YAML file (if present) overlaid with
// environment variables (§6's table), and performs the §4.8 range/sanity
// checks. It never fails on misconfiguration — only on a YAML file that
// exists but cannot be read or parsed — and instead returns human-readable
// warnings for the caller to log.
func Load(yamlPath string) (*Config, []string, error) {
	cfg := defaults()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, nil, fmt.Errorf("parsing config file %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("reading config file %s: %w", yamlPath, err)
		}
	}

	applyEnv(cfg)

	warnings := sanityCheck(cfg)
	return cfg, warnings, nil
}

func defaults() *Config {
	return &Config{
		AuthToken:           defaultAuthSentinel,
		RateLimit:           RateLimit{MaxRequests: defaultRateRequests, WindowMs: defaultRateWindowMs},
		CommandTimeoutMs:    defaultCommandTimeout,
		MaxAllowedTimeoutMs: defaultMaxTimeout,
		SSHTimeoutMs:        defaultSSHTimeout,
		MaxEncodingBytes:    defaultEncodingBytes,
		MaxCommandLength:    defaultMaxCmdLength,
		LogMaxFileSizeBytes: defaultLogMaxFileSize,
		ServerVersion:       "1.0.0",
		ProtocolVersion:     ProtocolVersion,
		ServerName:          DefaultServerName,
		RemoteUsername:      "Administrator",
		PreferredPort:       8080,
	}
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("MCP_AUTH_TOKEN"); ok && v != "" {
		cfg.AuthToken = v
	}
	if v, ok := os.LookupEnv("ALLOWED_IPS"); ok {
		cfg.AllowedIPs = splitCSV(v)
	}
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v, ok := os.LookupEnv("MCP_SERVER_PORT"); ok && v != "" && v != "auto" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PreferredPort = n
		}
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_REQUESTS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxRequests = n
		}
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_WINDOW"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.WindowMs = n
		}
	}
	if v, ok := os.LookupEnv("COMMAND_TIMEOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CommandTimeoutMs = n
		}
	}
	if v, ok := os.LookupEnv("MAX_ALLOWED_TIMEOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAllowedTimeoutMs = n
		}
	}
	if v, ok := os.LookupEnv("SSH_TIMEOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SSHTimeoutMs = n
		}
	}
	if v, ok := os.LookupEnv("ALLOWED_BUILD_PATHS"); ok {
		cfg.AllowedBuildPaths = splitCSV(v)
	}
	if v, ok := os.LookupEnv("ALLOWED_BATCH_DIRS"); ok {
		cfg.AllowedBatchDirs = splitCSV(v)
	}
	if v, ok := os.LookupEnv("DEV_COMMAND_PATHS"); ok {
		cfg.DevCommandPaths = splitCSV(v)
	}
	if v, ok := os.LookupEnv("ENABLE_DANGEROUS_MODE"); ok {
		cfg.Modes.Dangerous = isTruthy(v)
	}
	if v, ok := os.LookupEnv("ENABLE_DEV_COMMANDS"); ok {
		cfg.Modes.DevCommands = isTruthy(v)
	}
	if v, ok := os.LookupEnv("ALLOWED_DEV_COMMANDS"); ok {
		cfg.AllowedDevCommands = splitCSV(v)
	}
	if v, ok := os.LookupEnv("NORDVPN_ENABLED"); ok {
		cfg.NordVPNEnabled = isTruthy(v)
	}
	if v, ok := os.LookupEnv("NORDVPN_HOSTS"); ok {
		cfg.NordVPNHosts = splitCSV(v)
	}
	if v, ok := os.LookupEnv("REMOTE_USERNAME"); ok && v != "" {
		cfg.RemoteUsername = v
	}
	if v, ok := os.LookupEnv("REMOTE_PASSWORD"); ok {
		cfg.RemotePassword = v
	}
	if v, ok := os.LookupEnv("MCP_ENCRYPTION_KEY"); ok {
		cfg.EncryptionKey = v
	}
	if v, ok := os.LookupEnv("MAX_COMMAND_LENGTH"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxCommandLength = n
		}
	}
	if v, ok := os.LookupEnv("FILE_ENCODING_MAX_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxEncodingBytes = n
		}
	}
	if v, ok := os.LookupEnv("FILE_ENCODING_ALLOWED_EXTENSIONS"); ok {
		cfg.AllowedFileEncodingExtensions = splitCSV(v)
	}
	if v, ok := os.LookupEnv("LOG_MAX_FILE_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogMaxFileSizeBytes = n
		}
	}
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// sanityCheck performs the §4.8 startup warnings. It never fails — only
// logs-worthy warnings are returned, for the caller to emit through logger.
func sanityCheck(cfg *Config) []string {
	var warnings []string

	if cfg.AuthToken == "" || cfg.AuthToken == defaultAuthSentinel {
		warnings = append(warnings, "MCP_AUTH_TOKEN is unset or default: authentication is effectively disabled")
	}
	if len(cfg.AllowedIPs) == 0 {
		warnings = append(warnings, "ALLOWED_IPS is empty: any client IP is accepted")
	}
	if cfg.MaxAllowedTimeoutMs < cfg.CommandTimeoutMs {
		warnings = append(warnings, fmt.Sprintf(
			"MAX_ALLOWED_TIMEOUT (%dms) is less than COMMAND_TIMEOUT (%dms); raising it to match",
			cfg.MaxAllowedTimeoutMs, cfg.CommandTimeoutMs))
		cfg.MaxAllowedTimeoutMs = cfg.CommandTimeoutMs
	}
	if (cfg.NordVPNEnabled || len(cfg.KnownRemoteHosts) > 0) && cfg.RemotePassword == "" {
		warnings = append(warnings, "SSH remote fan-out is configured but REMOTE_PASSWORD is unset")
	}
	if cfg.Modes.Dangerous {
		warnings = append(warnings, "ENABLE_DANGEROUS_MODE is set: command validation and rate limiting are bypassed; path allowlists still apply")
	}

	return warnings
}

// EncryptionKeyPath returns the path used to persist a generated encryption
// key alongside the config, per §6's "Encryption key file" layout entry.
func EncryptionKeyPath(appDir string) string {
	return filepath.Join(appDir, "winbuildd.key")
}

// PortFilePath returns the path of the small port-announcement file
// published at listen and deleted at shutdown (§4.8, §6).
func PortFilePath(appDir string) string {
	return filepath.Join(appDir, "server-port.json")
}
