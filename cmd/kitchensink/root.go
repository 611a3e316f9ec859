package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the state resolved before any subcommand runs.
type app struct {
	v      *viper.Viper
	cfg    config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	cmd := &cobra.Command{
		Use:           "kitchensink",
		Short:         "kitchensink stores records, runs paginated queries over them and notifies subscribers of changes",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # In-memory API server
  kitchensink serve

  # Qdrant backend with notifications over NATS
  KITCHENSINK_BACKEND=qdrant KITCHENSINK_NATS_URL=nats://localhost:4222 kitchensink serve

  # Movies whose title contains "star", retrying failed sessions twice
  kitchensink query --backend neo4j --text star --retries 2

  # Movies within 1km of Cupertino
  kitchensink query --backend qdrant --near 37.3318,-122.0312 --radius 1000
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
	}
	addConfigFlags(cmd, a.v)
	cmd.AddCommand(
		newServeCommand(a),
		newQueryCommand(a),
		newRecordCommand(a),
		newSubscriptionCommand(a),
		newUserCommand(a),
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
