package main

import (
	"github.com/spf13/cobra"

	"math-mentor/api/internal/app"
	"math-mentor/api/internal/httpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves the solving API:
  POST /v1/solve, /v1/solve/image, /v1/solve/audio
  GET  /v1/cases, /v1/cases/{id}, /v1/cases/stats
  POST /v1/cases/{id}/feedback, /v1/index/rebuild
  GET  /healthz, /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return httpserver.Serve(ctx, "0.0.0.0:"+cfg.Port, a.Handler().Router(), logger)
}
