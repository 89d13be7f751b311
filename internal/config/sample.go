package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SampleYAML is printed by the config command
const SampleYAML = `# MySQL Replica Backup Configuration File
# Every key can also be set through REPLICA_BACKUP_<SECTION>_<KEY>,
# e.g. REPLICA_BACKUP_SERVER_HOST.

# Replica to back up
server:
  name: replica01          # Used in the final storage path (SQL_SERVER_TO_BACKUP_NAME)
  host: replica01.internal # Hostname or IP (SQL_SERVER_TO_BACKUP_FQDN)
  port: 3306
  username: backup         # SQL_BACKUP_USER
  password: ""             # SQL_BACKUP_PASS, prefer the environment
  ssl: false               # MARIADB_SSL=1 enables TLS
  timeout: 30s

# Comma separated allow-list, empty means every database on the server
databases: ""

# Parallel dumps per phase, 0 means one per CPU
concurrency: 0

dump:
  binary: mariadb-dump
  extra_args: []

archive:
  compression: zstd        # zstd, lz4, gzip, 7z, none
  level: 0                 # 0 uses the algorithm default
  encryption:
    enabled: false
    passphrase: ""         # REPLICA_BACKUP_ARCHIVE_ENCRYPTION_PASSPHRASE

storage:
  tmp_dir: /var/tmp/sql-backups        # TMP_BACKUP_TO_DIR
  final_dir: /mnt/backups/sql          # FINAL_COPY_TO_DIR
  provider: local                      # local, s3, gcs, azure
  prefix: ""                           # object key prefix for cloud providers
  keep_tmp: false
  s3:
    bucket: ""
    region: us-east-1
    endpoint: ""
    access_key: ""
    secret_key: ""
  gcs:
    bucket: ""
    credentials_path: ""
    project_id: ""
  azure:
    account_name: ""
    account_key: ""
    container_name: ""

replication:
  resume_failure_policy: log  # log, fail

classification:
  lock_engines: [MyISAM, Aria]

notify:
  on: failure              # always, failure, never
  webhook_url: ""
  slack_url: ""
  timeout: 10s

log:
  level: normal            # quiet, normal, verbose, debug
  format: text             # text, json
  file: ""

display:
  color: true
  manifest: ""             # write a run manifest (.yaml, .yml or .json)
`

// YAML renders the configuration with secrets masked
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	return out, nil
}
