package main

import (
	"github.com/spf13/cobra"

	"github.com/entrhq/capture/pkg/server"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			a, err := start(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			a.log.Infof("capture v%s starting (max contexts %d)", version, cfg.Capture.MaxContexts)
			srv := server.New(cfg.Server, a.pipeline, a.engine, a.log)
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config and PORT)")
	return cmd
}
