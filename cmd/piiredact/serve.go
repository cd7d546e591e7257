package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SamuelRCrider/pii-go/mcptools"
	"github.com/SamuelRCrider/pii-go/server"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analyze and anonymize HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := map[string]any{}
			if addr != "" {
				extra["server.addr"] = addr
			}
			svc, logger, err := o.newService(cmd, extra)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(svc, svc.Config().Server, server.WithLogger(logger.WithPrefix("http")))
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

func newMCPCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run an MCP tool server on stdio",
		Long: `Run an MCP server over stdin/stdout exposing the analyze_pii and
anonymize_pii tools. Logs go to stderr so they never mix with the protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := o.newService(cmd, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			return mcptools.NewServer(svc, logger.WithPrefix("mcp")).Serve()
		},
	}
}
