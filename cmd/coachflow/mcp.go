package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/coachflow/internal/cli"
	"github.com/aretw0/coachflow/pkg/adapters/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the Model Context Protocol server",
	Long: `Exposes session, analysis and graph operations as MCP tools and resources.
Logs are written to stderr so the stdio transport stays clean.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		a, err := loadApp(sc, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		s := mcp.NewServer(a.Sessions,
			mcp.WithAnalyzer(a.Analyzer),
			mcp.WithGraphs(a.Registry),
			mcp.WithLogger(a.Logger),
		)

		transport, _ := cmd.Flags().GetString("transport")
		switch transport {
		case "stdio":
			a.Logger.Info("Starting MCP server", "transport", transport)
			return s.ServeStdio()
		case "sse":
			addr, _ := cmd.Flags().GetString("addr")
			baseURL, _ := cmd.Flags().GetString("base-url")
			if baseURL == "" {
				baseURL = "http://localhost" + addr
			}
			a.Logger.Info("Starting MCP server", "transport", transport, "addr", addr)
			return s.ServeSSE(sc, addr, baseURL)
		default:
			return fmt.Errorf("unknown transport %q (use stdio or sse)", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport: stdio or sse")
	mcpCmd.Flags().String("addr", ":8081", "Listen address for the sse transport")
	mcpCmd.Flags().String("base-url", "", "Public base URL advertised by the sse transport")
}
