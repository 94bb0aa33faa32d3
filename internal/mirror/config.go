package mirror

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	defaultMirrorHost = "database.clamav.net"
	defaultTXTHost    = "current.cvd.clamav.net"
	defaultDNSDomain  = "clamav.net"
	defaultLockDir    = "/run/cvdmirror"
)

// LogConfig represents slog configuration options.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration.
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := mirror.NewConfig()
//	md, err := toml.DecodeFile("/path/to/cvdmirror.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	// MirrorHost is the primary distribution hostname to resolve.
	MirrorHost string `toml:"mirror_host"`

	// TXTHost serves the version announcement TXT record.
	TXTHost string `toml:"txt_host"`

	// DNSDomain is the distribution domain whose authoritative name
	// servers are used for all lookups.
	DNSDomain string `toml:"dns_domain"`

	// WorkDir holds in-flight downloads before verification.
	WorkDir string `toml:"work_dir"`

	// MirrorDir is the published directory served to clients.
	MirrorDir string `toml:"mirror_dir"`

	// LockDir holds the run lock file.
	LockDir string `toml:"lock_dir"`

	// DeployUser and DeployGroup name the desired ownership of
	// published files.  Best effort.
	DeployUser  string `toml:"deploy_user"`
	DeployGroup string `toml:"deploy_group"`

	// SigtoolCommand overrides the inspection binary.
	SigtoolCommand string `toml:"sigtool_command"`

	Log LogConfig `toml:"log"`
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.WorkDir == "" {
		return errors.New("work_dir is not set")
	}
	if !filepath.IsAbs(c.WorkDir) {
		return errors.New("work_dir must be an absolute path")
	}
	if c.MirrorDir == "" {
		return errors.New("mirror_dir is not set")
	}
	if !filepath.IsAbs(c.MirrorDir) {
		return errors.New("mirror_dir must be an absolute path")
	}
	if c.WorkDir == c.MirrorDir {
		return errors.New("work_dir and mirror_dir must differ")
	}
	if c.MirrorHost == "" {
		return errors.New("mirror_host is not set")
	}
	if c.TXTHost == "" {
		return errors.New("txt_host is not set")
	}
	if c.DNSDomain == "" {
		return errors.New("dns_domain is not set")
	}
	return nil
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		MirrorHost: defaultMirrorHost,
		TXTHost:    defaultTXTHost,
		DNSDomain:  defaultDNSDomain,
		LockDir:    defaultLockDir,
	}
}
