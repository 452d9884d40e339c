package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"webloop/internal/config"
	"webloop/pkg/database"
	"webloop/pkg/logger"
	"webloop/pkg/statusapi"
)

var serverCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Serve the run history API",
	Long: `Serve the read-only run history API over HTTP: run listing, per-run
detail, manifests, reports, and traces. The live event stream is only
available from the process executing a run (webloop run --status-port).`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	viper.BindPFlag("server_addr", serverCmd.Flags().Lookup("addr"))
}

func runServer(cmd *cobra.Command, args []string) error {
	config.SetDefaults(viper.GetViper())
	log, err := logger.CreateLogger(viper.GetString("log_file"), viper.GetString("log_level"), viper.GetString("log_format"), true)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()

	db, err := database.NewSQLiteDB(viper.GetString("database_path"))
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer db.Close()

	api := statusapi.New(db, viper.GetString("workspace_root"), nil, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- api.Start(viper.GetString("server_addr")) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Infof("🛑 Shutting down status API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return api.Stop(shutdownCtx)
	}
}
