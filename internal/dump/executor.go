package dump

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"mysql-replica-backup/internal/archive"
	"mysql-replica-backup/internal/logging"
)

const unknownError = "unknown error"

// Archiver turns a finished dump into its stored form
type Archiver interface {
	Archive(ctx context.Context, src string) (string, error)
}

// MariaDBExecutor runs mariadb-dump (or a compatible binary) as a child process
type MariaDBExecutor struct {
	binary   string
	archiver Archiver
	logger   *logging.Logger
}

// NewMariaDBExecutor creates an executor. archiver may be nil to keep raw dumps.
func NewMariaDBExecutor(binary string, archiver Archiver, logger *logging.Logger) *MariaDBExecutor {
	if binary == "" {
		binary = "mariadb-dump"
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &MariaDBExecutor{binary: binary, archiver: archiver, logger: logger}
}

// Args returns the argument vector for a task. The password is never included.
func Args(task Task) []string {
	args := make([]string, 0, len(task.Flags)+4)
	args = append(args, task.Flags...)
	args = append(args,
		"-h"+task.Connection.Host,
		"-P"+strconv.Itoa(task.Connection.Port),
		"-u"+task.Connection.Username,
		task.Database,
	)
	return args
}

// Execute dumps one database and archives the result
func (e *MariaDBExecutor) Execute(ctx context.Context, task Task) Outcome {
	start := time.Now()
	outcome := Outcome{
		Database: task.Database,
		Phase:    task.Strategy.Phase(),
		Strategy: task.Strategy,
	}

	base := task.OutputPrefix + task.Database
	sqlPath, errPath := base+".sql", base+".err"

	if err := e.run(ctx, task, sqlPath, errPath); err != nil {
		outcome.Error = failureReason(errPath, err)
		os.Remove(sqlPath)
		os.Remove(errPath)
		return e.finish(outcome, start)
	}
	os.Remove(errPath)

	path := sqlPath
	if e.archiver != nil {
		archived, err := e.archiver.Archive(ctx, sqlPath)
		if err != nil {
			var archiveErr *archive.Error
			if errors.As(err, &archiveErr) {
				outcome.Error = archiveErr.Message
			} else {
				outcome.Error = Summarize(err.Error())
			}
			os.Remove(sqlPath)
			return e.finish(outcome, start)
		}
		path = archived
	}

	if info, err := os.Stat(path); err == nil {
		outcome.SizeBytes = info.Size()
	}
	outcome.ArchivePath = path
	outcome.Success = true
	return e.finish(outcome, start)
}

func (e *MariaDBExecutor) finish(outcome Outcome, start time.Time) Outcome {
	outcome.Elapsed = time.Since(start)
	e.logger.LogBackupTask(outcome.Database, outcome.Success, outcome.SizeBytes, outcome.Elapsed, outcome.Error)
	return outcome
}

func (e *MariaDBExecutor) run(ctx context.Context, task Task, sqlPath, errPath string) error {
	stdout, err := os.OpenFile(sqlPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer stdout.Close()

	stderr, err := os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, e.binary, Args(task)...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()
	if task.Connection.Password != "" {
		cmd.Env = append(cmd.Env, "MYSQL_PWD="+task.Connection.Password)
	}

	e.logger.WithFields(map[string]interface{}{
		"database": task.Database,
		"strategy": task.Strategy.String(),
	}).Debugf("Running %s %s", e.binary, strings.Join(Args(task), " "))

	return cmd.Run()
}

// failureReason prefers the first line the dump wrote to stderr. Errors that
// happen before the process runs are reported directly.
func failureReason(errPath string, runErr error) string {
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return Summarize(runErr.Error())
	}
	if line := firstLineOfFile(errPath); line != "" {
		return line
	}
	return unknownError
}

func firstLineOfFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}

// Summarize reduces an error message to its first non-blank line
func Summarize(msg string) string {
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return unknownError
}
