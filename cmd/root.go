package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mysql-replica-backup/internal/config"
	apperrors "mysql-replica-backup/internal/errors"
)

// Exit codes
const (
	exitOK           = 0
	exitBackupFailed = 1
	exitFatal        = 2
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	noColor bool
)

// flagKeys maps CLI flags onto configuration keys
var flagKeys = map[string]string{
	"host":                  "server.host",
	"port":                  "server.port",
	"user":                  "server.username",
	"password":              "server.password",
	"server-name":           "server.name",
	"ssl":                   "server.ssl",
	"databases":             "databases",
	"tmp-dir":               "storage.tmp_dir",
	"final-dir":             "storage.final_dir",
	"storage":               "storage.provider",
	"concurrency":           "concurrency",
	"compression":           "archive.compression",
	"resume-failure-policy": "replication.resume_failure_policy",
	"manifest":              "display.manifest",
	"log-format":            "log.format",
	"log-file":              "log.file",
}

// rootCmd runs a backup when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "mysql-replica-backup",
	Short: "Back up every database on a MariaDB/MySQL replica",
	Long: `MySQL Replica Backup dumps the databases of a replica in two phases.

Databases whose tables are all transactional are dumped in parallel with
--single-transaction. Databases holding MyISAM or Aria tables are dumped
afterwards with table locks while the replica SQL thread is paused, and
replication is resumed when the phase ends, whatever its outcome.

Dumps are compressed (and optionally encrypted) in a staging directory,
then promoted to local storage, S3, GCS or Azure.

Examples:
  # Back up everything using a config file
  mysql-replica-backup --config /etc/replica-backup.yaml

  # Back up two databases with flags only
  mysql-replica-backup --host replica01 --user backup --server-name replica01 \
                       --databases shop,crm --tmp-dir /var/tmp/sql --final-dir /mnt/backups

  # Show how databases would be classified without dumping anything
  mysql-replica-backup classify --config /etc/replica-backup.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBackup,
}

// Execute runs the root command and exits with the run's exit code
func Execute() {
	os.Exit(exitCode(os.Stderr, rootCmd.Execute()))
}

// exitCode maps the command's error onto the process exit code
func exitCode(w io.Writer, err error) int {
	if err == nil {
		return exitOK
	}
	return reportError(w, err)
}

func init() {
	registerFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(createClassifyCommand())
	rootCmd.AddCommand(createConfigCommand())
	rootCmd.AddCommand(createVersionCommand())
}

// registerFlags defines the connection, storage and output flags shared by all commands
func registerFlags(flags *pflag.FlagSet) {
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./.mysql-replica-backup.yaml or $HOME/.mysql-replica-backup.yaml)")

	flags.String("host", "", "replica host")
	flags.Int("port", 3306, "replica port")
	flags.String("user", "", "backup user")
	flags.String("password", "", "backup user password (prefer REPLICA_BACKUP_SERVER_PASSWORD)")
	flags.String("server-name", "", "server name used in the final storage path")
	flags.Bool("ssl", false, "use TLS for the metadata connection and the dump tool")
	flags.String("databases", "", "comma separated allow-list, empty for all databases")

	flags.String("tmp-dir", "", "staging directory for dumps")
	flags.String("final-dir", "", "final directory for the local storage provider")
	flags.String("storage", "", "storage provider (local, s3, gcs, azure)")
	flags.Int("concurrency", 0, "parallel dumps per phase, 0 for one per CPU")
	flags.String("compression", "", "compression (zstd, lz4, gzip, 7z, none)")
	flags.String("resume-failure-policy", "", "what a failed replication resume does (log, fail)")
	flags.String("manifest", "", "write a run manifest to this path (.json or .yaml)")

	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("log-file", "", "also write logs to this file")
	flags.BoolVar(&noColor, "no-color", false, "disable color output")
}

// loadConfig merges flags, environment and the config file into a Config
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	if verbose && quiet {
		return config.Config{}, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"--verbose and --quiet flags are mutually exclusive", nil)
	}

	v, err := newViper(flags)
	if err != nil {
		return config.Config{}, err
	}

	switch {
	case verbose:
		v.Set("log.level", "verbose")
	case quiet:
		v.Set("log.level", "quiet")
	}
	if noColor {
		v.Set("display.color", false)
	}

	return config.Load(v)
}

// newViper creates a viper instance with flags bound and the config file read
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()

	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".mysql-replica-backup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "failed to read config file", err)
		}
	}
	return v, nil
}

// exitError carries the process exit code of a finished run
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func fatal(err error) error {
	return &exitError{code: exitFatal, err: err}
}

// reportError prints err for the operator and returns the exit code
func reportError(w io.Writer, err error) int {
	var ee *exitError
	if errors.As(err, &ee) && ee.code == exitBackupFailed {
		fmt.Fprintf(w, "Error: %v\n", ee.err)
		return exitBackupFailed
	}

	fmt.Fprintf(w, "Error: %s\n", apperrors.FormatUserError(err))
	for _, hint := range apperrors.TroubleshootingHints(err) {
		fmt.Fprintf(w, "  - %s\n", hint)
	}
	return exitFatal
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mysql-replica-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

func createConfigCommand() *cobra.Command {
	var effective bool

	command := &cobra.Command{
		Use:   "config",
		Short: "Print a sample configuration file",
		Long: `Print a sample configuration file that can be used with the --config flag.

With --effective, print the configuration that a run would use after
merging flags, environment and config file. Secrets are redacted.

Examples:
  mysql-replica-backup config > /etc/replica-backup.yaml
  mysql-replica-backup config --effective --config /etc/replica-backup.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !effective {
				fmt.Fprint(cmd.OutOrStdout(), config.SampleYAML)
				return nil
			}

			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return fatal(err)
			}
			data, err := cfg.YAML()
			if err != nil {
				return fatal(err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	command.Flags().BoolVar(&effective, "effective", false, "print the merged configuration instead of the sample")
	return command
}
