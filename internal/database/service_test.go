package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-replica-backup/internal/config"
	apperrors "mysql-replica-backup/internal/errors"
	"mysql-replica-backup/internal/logging"
)

func testServer() config.ServerConfig {
	return config.ServerConfig{
		Name:     "replica01",
		Host:     "db.internal",
		Port:     3307,
		Username: "backup",
		Password: "s3cret",
		Timeout:  5 * time.Second,
	}
}

func TestDSN(t *testing.T) {
	server := testServer()

	parsed, err := mysql.ParseDSN(DSN(server))
	require.NoError(t, err)

	assert.Equal(t, "backup", parsed.User)
	assert.Equal(t, "s3cret", parsed.Passwd)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "db.internal:3307", parsed.Addr)
	assert.Equal(t, "", parsed.DBName)
	assert.Equal(t, 5*time.Second, parsed.Timeout)
	assert.Equal(t, "false", parsed.TLSConfig)

	server.SSL = true
	parsed, err = mysql.ParseDSN(DSN(server))
	require.NoError(t, err)
	assert.Equal(t, "preferred", parsed.TLSConfig)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "db.internal:3307", Address(testServer()))
}

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock, *sql.DB, *string) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	var gotDSN string
	service := NewServiceWithLogger(logging.NewNullLogger()).WithOpenFunc(func(driverName, dsn string) (*sql.DB, error) {
		gotDSN = dsn
		return db, nil
	})
	return service, mock, db, &gotDSN
}

func TestConnect_Success(t *testing.T) {
	service, mock, db, gotDSN := newMockService(t)
	mock.ExpectPing()

	conn, err := service.Connect(context.Background(), testServer())
	require.NoError(t, err)
	assert.Same(t, db, conn)
	assert.Equal(t, DSN(testServer()), *gotDSN)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_PingFailureIsFatal(t *testing.T) {
	service, mock, _, _ := newMockService(t)
	mock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 2003, Message: "Can't connect"})
	mock.ExpectClose()

	conn, err := service.Connect(context.Background(), testServer())
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Equal(t, apperrors.ErrorTypeConnection, apperrors.GetErrorType(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_OpenFailure(t *testing.T) {
	service := NewServiceWithLogger(logging.NewNullLogger()).WithOpenFunc(func(string, string) (*sql.DB, error) {
		return nil, errors.New("unknown driver")
	})

	_, err := service.Connect(context.Background(), testServer())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open database connection")
}

func TestConnect_EmptyConfig(t *testing.T) {
	service := NewServiceWithLogger(logging.NewNullLogger())

	_, err := service.Connect(context.Background(), config.ServerConfig{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))
}

func TestGetVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT VERSION\\(\\)").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("10.11.6-MariaDB-log"))

	service := NewServiceWithLogger(logging.NewNullLogger())
	version, err := service.GetVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "10.11.6-MariaDB-log", version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilDB(t *testing.T) {
	service := NewServiceWithLogger(logging.NewNullLogger())

	assert.Error(t, service.TestConnection(context.Background(), nil))
	_, err := service.GetVersion(context.Background(), nil)
	assert.Error(t, err)
	assert.NoError(t, service.Close(nil))
}

func TestClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	service := NewServiceWithLogger(logging.NewNullLogger())
	assert.NoError(t, service.Close(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
