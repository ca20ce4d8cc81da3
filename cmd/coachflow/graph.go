package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/coachflow/internal/presentation/graph"
	"github.com/aretw0/coachflow/pkg/domain"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph [conversational|analysis]",
	Short: "Export a workflow graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of a workflow graph. With --session the
visited and current nodes of that session are highlighted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		typ := domain.WorkflowConversational
		if len(args) > 0 {
			typ = domain.WorkflowType(args[0])
		}
		g, ok := a.Registry.Graph(typ)
		if !ok {
			return fmt.Errorf("unknown workflow type %q (known: %v)", typ, a.Registry.Types())
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(g)
		}

		var overlay *graph.GraphOverlay
		if id, _ := cmd.Flags().GetString("session"); id != "" {
			sess, err := a.Sessions.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			overlay = graph.OverlayFor(sess.Workflow)
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(g, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("session", "", "Highlight the progress of this session")
	graphCmd.Flags().Bool("json", false, "Print the graph definition as JSON")
}
