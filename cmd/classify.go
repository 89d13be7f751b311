package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mysql-replica-backup/internal/discovery"
	apperrors "mysql-replica-backup/internal/errors"
)

func createClassifyCommand() *cobra.Command {
	var output string

	command := &cobra.Command{
		Use:   "classify",
		Short: "Show how databases would be backed up",
		Long: `List the databases selected for backup and classify them by table engine,
without dumping anything or touching replication.

Examples:
  mysql-replica-backup classify --config /etc/replica-backup.yaml
  mysql-replica-backup classify --databases shop,crm --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "table" && output != "json" && output != "yaml" {
				return fatal(apperrors.NewAppError(apperrors.ErrorTypeValidation,
					fmt.Sprintf("invalid output format '%s', must be table, json or yaml", output), nil))
			}

			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return fatal(err)
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return fatal(err)
			}

			service, db, err := connect(cmd.Context(), cfg, logger)
			if err != nil {
				return fatal(err)
			}
			defer service.Close(db)

			filter, err := discovery.NewLister(db, logger).Discover(cmd.Context(), cfg.Databases)
			if err != nil {
				return fatal(err)
			}
			classification, err := discovery.NewClassifier(db, logger, cfg.Classification.LockEngines).
				Classify(cmd.Context(), filter.Databases)
			if err != nil {
				return fatal(err)
			}

			if output == "table" {
				newReporter(cfg.Display).Classified(filter, classification)
				return nil
			}
			return writeClassification(cmd.OutOrStdout(), output, filter, classification)
		},
	}

	command.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")
	return command
}

// classificationReport is the machine-readable form of the classify command
type classificationReport struct {
	Databases      []string                 `json:"databases" yaml:"databases"`
	Excluded       []string                 `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	FromAllowList  bool                     `json:"from_allow_list" yaml:"from_allow_list"`
	Classification discovery.Classification `json:"classification" yaml:"classification"`
}

func writeClassification(w io.Writer, format string, filter discovery.FilterResult, classification discovery.Classification) error {
	report := classificationReport{
		Databases:      filter.Databases,
		Excluded:       filter.Excluded,
		FromAllowList:  filter.FromAllowList,
		Classification: classification,
	}

	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	default:
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(report)
	}
}
