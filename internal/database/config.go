package database

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"mysql-replica-backup/internal/config"
)

// DSN returns the Data Source Name for the metadata connection. No default
// schema is selected; every query names information_schema explicitly.
func DSN(server config.ServerConfig) string {
	cfg := mysql.NewConfig()
	cfg.User = server.Username
	cfg.Passwd = server.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
	cfg.Timeout = server.Timeout
	cfg.ReadTimeout = server.Timeout
	cfg.ParseTime = true
	if server.SSL {
		cfg.TLSConfig = "preferred"
	} else {
		cfg.TLSConfig = "false"
	}
	return cfg.FormatDSN()
}

// Address returns host:port for logging
func Address(server config.ServerConfig) string {
	return fmt.Sprintf("%s:%d", server.Host, server.Port)
}
