package dump

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-replica-backup/internal/archive"
	"mysql-replica-backup/internal/config"
	"mysql-replica-backup/internal/logging"
)

func TestBuildFlags(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		opts     FlagOptions
		want     []string
	}{
		{
			name:     "snapshot without ssl",
			strategy: StrategySnapshot,
			want: []string{
				"--single-transaction", "--skip-lock-tables",
				"--quick", "--max-allowed-packet=1G", "--net-buffer-length=32768",
				"--ssl=0",
			},
		},
		{
			name:     "locking with ssl",
			strategy: StrategyLocking,
			opts:     FlagOptions{SSL: true},
			want: []string{
				"--lock-tables",
				"--quick", "--max-allowed-packet=1G", "--net-buffer-length=32768",
			},
		},
		{
			name:     "extra args are appended",
			strategy: StrategySnapshot,
			opts:     FlagOptions{SSL: true, ExtraArgs: []string{"--routines", "--events"}},
			want: []string{
				"--single-transaction", "--skip-lock-tables",
				"--quick", "--max-allowed-packet=1G", "--net-buffer-length=32768",
				"--routines", "--events",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildFlags(tt.strategy, tt.opts))
		})
	}
}

func TestBuildFlags_LockingNeverSnapshots(t *testing.T) {
	flags := BuildFlags(StrategyLocking, FlagOptions{})
	assert.NotContains(t, flags, "--single-transaction")
	assert.NotContains(t, flags, "--skip-lock-tables")
}

func TestStrategy(t *testing.T) {
	assert.Equal(t, 1, StrategySnapshot.Phase())
	assert.Equal(t, 2, StrategyLocking.Phase())
	assert.Equal(t, "single-transaction", StrategySnapshot.String())
	assert.Equal(t, "lock-tables", StrategyLocking.String())

	text, err := StrategyLocking.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "lock-tables", string(text))
}

func TestArgs_ExcludePassword(t *testing.T) {
	task := Task{
		Database: "alpha",
		Flags:    []string{"--quick"},
		Connection: config.ServerConfig{
			Host: "replica-1", Port: 3307, Username: "backup", Password: "s3cret",
		},
	}

	args := Args(task)
	assert.Equal(t, []string{"--quick", "-hreplica-1", "-P3307", "-ubackup", "alpha"}, args)
	for _, arg := range args {
		assert.NotContains(t, arg, "s3cret")
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "mariadb-dump: Got error: 1044", Summarize("\n  mariadb-dump: Got error: 1044  \nsecond line"))
	assert.Equal(t, "unknown error", Summarize(""))
	assert.Equal(t, "unknown error", Summarize(" \n\t\n"))
}

// fakeDump writes a shell script that behaves like a dump binary
func fakeDump(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-dump")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func testTask(dir string) Task {
	return Task{
		Database:     "alpha",
		Strategy:     StrategySnapshot,
		Flags:        BuildFlags(StrategySnapshot, FlagOptions{}),
		OutputPrefix: dir + string(os.PathSeparator),
		Connection: config.ServerConfig{
			Host: "127.0.0.1", Port: 3306, Username: "backup", Password: "s3cret",
		},
	}
}

func TestExecute_Success(t *testing.T) {
	bin := fakeDump(t, `echo "-- args: $*"; echo "-- pwd: $MYSQL_PWD"; echo "CREATE TABLE t (id int);"`)
	dir := t.TempDir()

	exec := NewMariaDBExecutor(bin, nil, logging.NewNullLogger())
	outcome := exec.Execute(context.Background(), testTask(dir))

	require.True(t, outcome.Success, outcome.Error)
	assert.Equal(t, "alpha", outcome.Database)
	assert.Equal(t, 1, outcome.Phase)
	assert.Equal(t, filepath.Join(dir, "alpha.sql"), outcome.ArchivePath)
	assert.Positive(t, outcome.SizeBytes)
	assert.NoFileExists(t, filepath.Join(dir, "alpha.err"))

	data, err := os.ReadFile(outcome.ArchivePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--single-transaction --skip-lock-tables")
	assert.Contains(t, string(data), "-h127.0.0.1 -P3306 -ubackup alpha")
	assert.Contains(t, string(data), "-- pwd: s3cret")
}

func TestExecute_Archives(t *testing.T) {
	bin := fakeDump(t, `i=0; while [ $i -lt 200 ]; do echo "INSERT INTO t VALUES ($i);"; i=$((i+1)); done`)
	dir := t.TempDir()

	archiver, err := archive.New(config.ArchiveConfig{Compression: "gzip"})
	require.NoError(t, err)

	outcome := NewMariaDBExecutor(bin, archiver, nil).Execute(context.Background(), testTask(dir))

	require.True(t, outcome.Success, outcome.Error)
	assert.Equal(t, filepath.Join(dir, "alpha.sql.gz"), outcome.ArchivePath)
	assert.NoFileExists(t, filepath.Join(dir, "alpha.sql"))

	info, err := os.Stat(outcome.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), outcome.SizeBytes)
}

func TestExecute_DumpFailureUsesFirstStderrLine(t *testing.T) {
	bin := fakeDump(t, `echo "partial output"; echo "" >&2; echo "mariadb-dump: Got error: 1049: Unknown database 'alpha'" >&2; echo "more" >&2; exit 2`)
	dir := t.TempDir()

	outcome := NewMariaDBExecutor(bin, nil, nil).Execute(context.Background(), testTask(dir))

	assert.False(t, outcome.Success)
	assert.Equal(t, "mariadb-dump: Got error: 1049: Unknown database 'alpha'", outcome.Error)
	assert.NoFileExists(t, filepath.Join(dir, "alpha.sql"))
	assert.NoFileExists(t, filepath.Join(dir, "alpha.err"))
}

func TestExecute_DumpFailureWithoutStderr(t *testing.T) {
	bin := fakeDump(t, `exit 1`)
	dir := t.TempDir()

	outcome := NewMariaDBExecutor(bin, nil, nil).Execute(context.Background(), testTask(dir))

	assert.False(t, outcome.Success)
	assert.Equal(t, "unknown error", outcome.Error)
}

func TestExecute_MissingBinary(t *testing.T) {
	dir := t.TempDir()

	outcome := NewMariaDBExecutor(filepath.Join(dir, "nope"), nil, nil).Execute(context.Background(), testTask(dir))

	assert.False(t, outcome.Success)
	assert.NotEmpty(t, outcome.Error)
	assert.NotContains(t, outcome.Error, "\n")
}

type failingArchiver struct{ err error }

func (f failingArchiver) Archive(ctx context.Context, src string) (string, error) {
	return "", f.err
}

func TestExecute_CompressionFailure(t *testing.T) {
	bin := fakeDump(t, `echo "CREATE TABLE t (id int);"`)
	dir := t.TempDir()

	archiver := failingArchiver{err: &archive.Error{Message: "7zip compression failed", Cause: errors.New("exit status 2")}}
	outcome := NewMariaDBExecutor(bin, archiver, nil).Execute(context.Background(), testTask(dir))

	assert.False(t, outcome.Success)
	assert.Equal(t, "7zip compression failed", outcome.Error)
	assert.NoFileExists(t, filepath.Join(dir, "alpha.sql"))
}

func TestExecute_CancelledContext(t *testing.T) {
	bin := fakeDump(t, `sleep 5`)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := NewMariaDBExecutor(bin, nil, nil).Execute(ctx, testTask(dir))

	assert.False(t, outcome.Success)
	assert.False(t, strings.Contains(outcome.Error, "\n"))
}

func TestExecutorFunc(t *testing.T) {
	var e Executor = ExecutorFunc(func(ctx context.Context, task Task) Outcome {
		return Outcome{Database: task.Database, Success: true}
	})
	assert.True(t, e.Execute(context.Background(), Task{Database: "x"}).Success)
}
