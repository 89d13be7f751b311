package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "mysql-replica-backup/internal/errors"
)

// EnvPrefix is prepended to every configuration key when read from the environment
const EnvPrefix = "REPLICA_BACKUP"

// Resume failure policies
const (
	ResumePolicyLog  = "log"
	ResumePolicyFail = "fail"
)

// Notification triggers
const (
	NotifyAlways    = "always"
	NotifyOnFailure = "failure"
	NotifyNever     = "never"
)

// Config is the complete, immutable configuration of one backup run
type Config struct {
	Server         ServerConfig         `mapstructure:"server" yaml:"server"`
	Databases      string               `mapstructure:"databases" yaml:"databases"`
	Concurrency    int                  `mapstructure:"concurrency" yaml:"concurrency"`
	Dump           DumpConfig           `mapstructure:"dump" yaml:"dump"`
	Archive        ArchiveConfig        `mapstructure:"archive" yaml:"archive"`
	Storage        StorageConfig        `mapstructure:"storage" yaml:"storage"`
	Replication    ReplicationConfig    `mapstructure:"replication" yaml:"replication"`
	Classification ClassificationConfig `mapstructure:"classification" yaml:"classification"`
	Notify         NotifyConfig         `mapstructure:"notify" yaml:"notify"`
	Log            LogConfig            `mapstructure:"log" yaml:"log"`
	Display        DisplayConfig        `mapstructure:"display" yaml:"display"`
}

// ServerConfig describes the replica being backed up
type ServerConfig struct {
	Name     string        `mapstructure:"name" yaml:"name"`
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	SSL      bool          `mapstructure:"ssl" yaml:"ssl"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DumpConfig controls the external dump tool
type DumpConfig struct {
	Binary    string   `mapstructure:"binary" yaml:"binary"`
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args"`
}

// ArchiveConfig controls how dump files are compressed and optionally encrypted
type ArchiveConfig struct {
	Compression string           `mapstructure:"compression" yaml:"compression"`
	Level       int              `mapstructure:"level" yaml:"level"`
	Encryption  EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
}

// EncryptionConfig defines archive encryption settings
type EncryptionConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`
}

// ReplicationConfig controls replica SQL thread handling
type ReplicationConfig struct {
	ResumeFailurePolicy string `mapstructure:"resume_failure_policy" yaml:"resume_failure_policy"`
}

// ClassificationConfig controls which engines force the locking strategy
type ClassificationConfig struct {
	LockEngines []string `mapstructure:"lock_engines" yaml:"lock_engines"`
}

// NotifyConfig defines completion notifications
type NotifyConfig struct {
	On         string        `mapstructure:"on" yaml:"on"`
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	SlackURL   string        `mapstructure:"slack_url" yaml:"slack_url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LogConfig defines logger settings
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// DisplayConfig defines console output settings
type DisplayConfig struct {
	Color    bool   `mapstructure:"color" yaml:"color"`
	Manifest string `mapstructure:"manifest" yaml:"manifest"`
}

// legacyEnv maps configuration keys onto the environment names older
// deployments of the backup job export.
var legacyEnv = map[string]string{
	"server.name":       "SQL_SERVER_TO_BACKUP_NAME",
	"server.host":       "SQL_SERVER_TO_BACKUP_FQDN",
	"server.username":   "SQL_BACKUP_USER",
	"server.password":   "SQL_BACKUP_PASS",
	"databases":         "COMMA_SEP_LIST_DBS_TO_BACKUP_LEAVE_BLANK_FOR_ALL",
	"storage.tmp_dir":   "TMP_BACKUP_TO_DIR",
	"storage.final_dir": "FINAL_COPY_TO_DIR",
	"server.ssl":        "MARIADB_SSL",
}

// SetDefaults registers default values for every known key. Keys must be
// known to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "")
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 3306)
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.ssl", false)
	v.SetDefault("server.timeout", 30*time.Second)

	v.SetDefault("databases", "")
	v.SetDefault("concurrency", 0)

	v.SetDefault("dump.binary", "mariadb-dump")
	v.SetDefault("dump.extra_args", []string{})

	v.SetDefault("archive.compression", "zstd")
	v.SetDefault("archive.level", 0)
	v.SetDefault("archive.encryption.enabled", false)
	v.SetDefault("archive.encryption.passphrase", "")

	v.SetDefault("storage.tmp_dir", "")
	v.SetDefault("storage.final_dir", "")
	v.SetDefault("storage.provider", ProviderLocal)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.keep_tmp", false)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.credentials_path", "")
	v.SetDefault("storage.gcs.project_id", "")
	v.SetDefault("storage.azure.account_name", "")
	v.SetDefault("storage.azure.account_key", "")
	v.SetDefault("storage.azure.container_name", "")

	v.SetDefault("replication.resume_failure_policy", ResumePolicyLog)
	v.SetDefault("classification.lock_engines", []string{"MyISAM", "Aria"})

	v.SetDefault("notify.on", NotifyOnFailure)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.slack_url", "")
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("log.level", "normal")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("display.color", true)
	v.SetDefault("display.manifest", "")
}

// BindEnvironment enables REPLICA_BACKUP_* overrides and the legacy variable names
func BindEnvironment(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}
	return nil
}

// Load builds a validated Config from v. Flags bound to v take precedence over
// the environment, which takes precedence over the config file.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	if err := BindEnvironment(v); err != nil {
		return Config{}, apperrors.NewAppError(apperrors.ErrorTypeValidation, "environment binding failed", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, apperrors.NewAppError(apperrors.ErrorTypeValidation, "failed to unmarshal configuration", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3306
	}
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = 30 * time.Second
	}
	c.Archive.Compression = strings.ToLower(strings.TrimSpace(c.Archive.Compression))
	c.Storage.Provider = strings.ToLower(strings.TrimSpace(c.Storage.Provider))
	c.Replication.ResumeFailurePolicy = strings.ToLower(strings.TrimSpace(c.Replication.ResumeFailurePolicy))
	c.Notify.On = strings.ToLower(strings.TrimSpace(c.Notify.On))

	engines := c.Classification.LockEngines[:0]
	for _, e := range c.Classification.LockEngines {
		if e = strings.TrimSpace(e); e != "" {
			engines = append(engines, e)
		}
	}
	c.Classification.LockEngines = engines
}

// Validate checks that every required setting is present and every enum is known
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Name == "" {
		errs = append(errs, "server name is required (server.name or SQL_SERVER_TO_BACKUP_NAME)")
	}
	if c.Server.Host == "" {
		errs = append(errs, "server host is required (server.host or SQL_SERVER_TO_BACKUP_FQDN)")
	}
	if c.Server.Username == "" {
		errs = append(errs, "server username is required (server.username or SQL_BACKUP_USER)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if !oneOf(c.Archive.Compression, "zstd", "lz4", "gzip", "7z", "none") {
		errs = append(errs, fmt.Sprintf("invalid compression '%s', must be one of: zstd, lz4, gzip, 7z, none", c.Archive.Compression))
	}
	if c.Archive.Encryption.Enabled && c.Archive.Encryption.Passphrase == "" {
		errs = append(errs, "archive encryption is enabled but no passphrase is set")
	}
	if c.Dump.Binary == "" {
		errs = append(errs, "dump binary is required")
	}

	if !oneOf(c.Replication.ResumeFailurePolicy, ResumePolicyLog, ResumePolicyFail) {
		errs = append(errs, fmt.Sprintf("invalid resume failure policy '%s', must be log or fail", c.Replication.ResumeFailurePolicy))
	}
	if len(c.Classification.LockEngines) == 0 {
		errs = append(errs, "at least one lock engine is required")
	}

	if !oneOf(c.Notify.On, NotifyAlways, NotifyOnFailure, NotifyNever) {
		errs = append(errs, fmt.Sprintf("invalid notify.on '%s', must be always, failure or never", c.Notify.On))
	}

	if !oneOf(c.Log.Level, "quiet", "normal", "verbose", "debug") {
		errs = append(errs, fmt.Sprintf("invalid log level '%s'", c.Log.Level))
	}
	if !oneOf(c.Log.Format, "text", "json") {
		errs = append(errs, fmt.Sprintf("invalid log format '%s', must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"configuration validation failed: "+strings.Join(errs, "; "), nil)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for printing
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Server.Password = mask(c.Server.Password)
	c.Archive.Encryption.Passphrase = mask(c.Archive.Encryption.Passphrase)
	c.Storage.S3.SecretKey = mask(c.Storage.S3.SecretKey)
	c.Storage.Azure.AccountKey = mask(c.Storage.Azure.AccountKey)
	return c
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
