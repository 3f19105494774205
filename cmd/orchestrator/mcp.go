package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/mcp"
)

func newMCPCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the agent tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := rt.logger
			c, err := wire(rt.cfg, logger)
			if err != nil {
				return err
			}
			defer c.close(logger)

			tools := mcp.NewToolbox(c.store, c.assembler, c.materializer, c.prober)
			srv := mcp.NewServer(tools, version, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = srv.Serve(ctx, mcp.Stdio(os.Stdin, os.Stdout))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
