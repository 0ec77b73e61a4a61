package commands

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"leadgen-outreach-go/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator API and the delivery tick",
	RunE:  runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the delivery tick",
	Long: `Run only the delivery tick. Several workers may share one database;
claims are exclusive so each message is sent at most once.`,
	RunE: runWorker,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the outreach tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Migrate(configPath)
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	logrus.Info("Starting outreach service")
	a, err := app.New(context.Background(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve()
}

func runWorker(cmd *cobra.Command, args []string) error {
	logrus.Info("Starting outreach worker")
	a, err := app.New(context.Background(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Work()
}
