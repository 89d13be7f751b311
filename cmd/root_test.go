package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"mysql-replica-backup/internal/backup"
	"mysql-replica-backup/internal/config"
	"mysql-replica-backup/internal/database"
	"mysql-replica-backup/internal/discovery"
	apperrors "mysql-replica-backup/internal/errors"
	"mysql-replica-backup/internal/logging"
)

// parseFlags registers fresh flags, parses args and isolates the test from any
// config file in the working or home directory
func parseFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

var requiredArgs = []string{
	"--host", "replica01.internal",
	"--user", "backup",
	"--server-name", "replica01",
	"--tmp-dir", "/var/tmp/sql",
	"--final-dir", "/mnt/backups",
}

func TestLoadConfig_Flags(t *testing.T) {
	fs := parseFlags(t, append(requiredArgs,
		"--port", "3307",
		"--databases", "shop,crm",
		"--concurrency", "4",
		"--compression", "gzip",
		"--resume-failure-policy", "fail",
		"--manifest", "/var/log/backup/run.json",
		"--log-format", "json",
		"--ssl",
		"-v",
		"--no-color",
	)...)

	cfg, err := loadConfig(fs)
	require.NoError(t, err)

	assert.Equal(t, "replica01.internal", cfg.Server.Host)
	assert.Equal(t, 3307, cfg.Server.Port)
	assert.Equal(t, "backup", cfg.Server.Username)
	assert.Equal(t, "replica01", cfg.Server.Name)
	assert.True(t, cfg.Server.SSL)
	assert.Equal(t, "shop,crm", cfg.Databases)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "gzip", cfg.Archive.Compression)
	assert.Equal(t, config.ResumePolicyFail, cfg.Replication.ResumeFailurePolicy)
	assert.Equal(t, "/var/log/backup/run.json", cfg.Display.Manifest)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "verbose", cfg.Log.Level)
	assert.False(t, cfg.Display.Color)
	assert.Equal(t, config.ProviderLocal, cfg.Storage.Provider)
}

func TestLoadConfig_Precedence(t *testing.T) {
	fs := parseFlags(t, "--host", "flag-host")

	file := filepath.Join(t.TempDir(), "backup.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  name: from-file
  host: file-host
  username: file-user
storage:
  tmp_dir: /var/tmp/sql
  final_dir: /mnt/backups
concurrency: 2
`), 0600))
	cfgFile = file
	t.Cleanup(func() { cfgFile = "" })

	t.Setenv("REPLICA_BACKUP_SERVER_HOST", "env-host")
	t.Setenv("SQL_BACKUP_USER", "legacy-user")

	cfg, err := loadConfig(fs)
	require.NoError(t, err)

	assert.Equal(t, "flag-host", cfg.Server.Host)
	assert.Equal(t, "legacy-user", cfg.Server.Username)
	assert.Equal(t, "from-file", cfg.Server.Name)
	assert.Equal(t, 2, cfg.Concurrency)
}

func TestLoadConfig_EnvironmentOverFile(t *testing.T) {
	fs := parseFlags(t)

	file := filepath.Join(t.TempDir(), "backup.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  host: file-host\n"), 0600))
	cfgFile = file
	t.Cleanup(func() { cfgFile = "" })

	t.Setenv("REPLICA_BACKUP_SERVER_HOST", "env-host")
	t.Setenv("SQL_SERVER_TO_BACKUP_NAME", "replica01")
	t.Setenv("SQL_BACKUP_USER", "backup")
	t.Setenv("TMP_BACKUP_TO_DIR", "/var/tmp/sql")
	t.Setenv("FINAL_COPY_TO_DIR", "/mnt/backups")

	cfg, err := loadConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, "env-host", cfg.Server.Host)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	fs := parseFlags(t, "--host", "replica01.internal")

	_, err := loadConfig(fs)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))
	assert.Contains(t, err.Error(), "server name is required")
	assert.Contains(t, err.Error(), "tmp dir is required")
}

func TestLoadConfig_VerboseAndQuiet(t *testing.T) {
	fs := parseFlags(t, append(requiredArgs, "-v", "-q")...)

	_, err := loadConfig(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestLoadConfig_QuietLevel(t *testing.T) {
	fs := parseFlags(t, append(requiredArgs, "-q")...)

	cfg, err := loadConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, "quiet", cfg.Log.Level)
}

func TestLoadConfig_MissingConfigFile(t *testing.T) {
	fs := parseFlags(t, requiredArgs...)
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfgFile = "" })

	_, err := loadConfig(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	code := reportError(&buf, &exitError{code: exitBackupFailed, err: errors.New("backup completed with 2 failure(s)")})
	assert.Equal(t, exitBackupFailed, code)
	assert.Equal(t, "Error: backup completed with 2 failure(s)\n", buf.String())

	buf.Reset()
	code = reportError(&buf, fatal(apperrors.NewAppError(apperrors.ErrorTypeConnection, "failed to connect to database", nil)))
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, buf.String(), "failed to connect to database")
	assert.Contains(t, buf.String(), "  - Check that the database server is running")

	buf.Reset()
	assert.Equal(t, exitFatal, reportError(&buf, errors.New("unknown flag: --bogus")))
	assert.Contains(t, buf.String(), "unknown flag")
}

func TestExitCode(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, exitOK, exitCode(&buf, nil))
	assert.Empty(t, buf.String())

	assert.Equal(t, exitBackupFailed, exitCode(&buf, runOutcome(&backup.RunResult{
		Failures: []backup.Failure{{Database: "beta", Error: "Access denied"}},
	})))
	assert.Equal(t, exitFatal, exitCode(&buf, fatal(errors.New("failed to connect"))))
}

func TestRunOutcome(t *testing.T) {
	assert.NoError(t, runOutcome(&backup.RunResult{Success: true}))

	err := runOutcome(&backup.RunResult{Failures: []backup.Failure{{Database: "beta", Error: "Access denied"}}})
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, exitBackupFailed, ee.code)
	assert.Equal(t, "backup completed with 1 failure(s): beta: Access denied", err.Error())
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "2024-03-04", "abc123", "go1.25")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown", "unknown") })

	command := createVersionCommand()
	var buf bytes.Buffer
	command.SetOut(&buf)
	command.SetArgs([]string{})
	require.NoError(t, command.Execute())

	assert.Contains(t, buf.String(), "mysql-replica-backup version 1.2.3")
	assert.Contains(t, buf.String(), "Commit: abc123")
}

func TestConfigCommand_Sample(t *testing.T) {
	command := createConfigCommand()
	var buf bytes.Buffer
	command.SetOut(&buf)
	command.SetArgs([]string{})
	require.NoError(t, command.Execute())

	assert.Equal(t, config.SampleYAML, buf.String())
}

func TestConfigCommand_EffectiveRedactsSecrets(t *testing.T) {
	verbose, quiet, noColor = false, false, false
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("SQL_SERVER_TO_BACKUP_NAME", "replica01")
	t.Setenv("SQL_SERVER_TO_BACKUP_FQDN", "replica01.internal")
	t.Setenv("SQL_BACKUP_USER", "backup")
	t.Setenv("SQL_BACKUP_PASS", "s3cret")
	t.Setenv("TMP_BACKUP_TO_DIR", "/var/tmp/sql")
	t.Setenv("FINAL_COPY_TO_DIR", "/mnt/backups")

	command := createConfigCommand()
	var buf bytes.Buffer
	command.SetOut(&buf)
	command.SetArgs([]string{"--effective"})
	require.NoError(t, command.Execute())

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &cfg))
	assert.Equal(t, "replica01.internal", cfg.Server.Host)
	assert.Equal(t, "********", cfg.Server.Password)
	assert.NotContains(t, buf.String(), "s3cret")
}

func testClassification() (discovery.FilterResult, discovery.Classification) {
	return discovery.FilterResult{
			Databases: []string{"alpha", "legacy"},
			Excluded:  []string{"sys"},
		}, discovery.Classification{
			TransactionalOnly: []string{"alpha"},
			RequiresLock:      []string{"legacy"},
			Engines:           map[string][]string{"alpha": {"InnoDB"}, "legacy": {"MyISAM"}},
		}
}

func TestWriteClassification_JSON(t *testing.T) {
	filter, classification := testClassification()

	var buf bytes.Buffer
	require.NoError(t, writeClassification(&buf, "json", filter, classification))

	var report classificationReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, []string{"alpha", "legacy"}, report.Databases)
	assert.Equal(t, []string{"sys"}, report.Excluded)
	assert.Equal(t, []string{"legacy"}, report.Classification.RequiresLock)
}

func TestWriteClassification_YAML(t *testing.T) {
	filter, classification := testClassification()

	var buf bytes.Buffer
	require.NoError(t, writeClassification(&buf, "yaml", filter, classification))

	var report classificationReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, []string{"alpha"}, report.Classification.TransactionalOnly)
	assert.Equal(t, []string{"MyISAM"}, report.Classification.Engines["legacy"])
}

func TestConnect_LogsServerVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT VERSION\\(\\)").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("10.11.6-MariaDB-log"))

	var out bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelNormal, Output: &out})
	require.NoError(t, err)

	service := database.NewServiceWithLogger(logger).WithOpenFunc(func(string, string) (*sql.DB, error) {
		return db, nil
	})
	cfg := config.Config{Server: config.ServerConfig{Name: "replica01", Host: "replica01.internal", Port: 3306, Username: "backup"}}

	_, got, err := connectWith(context.Background(), service, cfg, logger)
	require.NoError(t, err)
	assert.Same(t, db, got)
	assert.Contains(t, out.String(), "Connected to replica")
	assert.Contains(t, out.String(), "version=10.11.6-MariaDB-log")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_VersionFailureIsOnlyAWarning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT VERSION\\(\\)").WillReturnError(errors.New("lost connection"))

	var out bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelNormal, Output: &out})
	require.NoError(t, err)

	service := database.NewServiceWithLogger(logger).WithOpenFunc(func(string, string) (*sql.DB, error) {
		return db, nil
	})
	cfg := config.Config{Server: config.ServerConfig{Name: "replica01", Host: "replica01.internal", Port: 3306, Username: "backup"}}

	_, _, err = connectWith(context.Background(), service, cfg, logger)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "level=warning")
	assert.Contains(t, out.String(), "Could not determine server version")
}
