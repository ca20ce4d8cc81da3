package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/coachflow/internal/app"
	"github.com/aretw0/coachflow/pkg/dispatch"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/nodes"
	"github.com/aretw0/coachflow/pkg/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration, graphs, routes and templates",
	Long: `Loads the configuration, proves every workflow graph reaches a terminal node
from every node, and checks that each dispatch route has a template to run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := runValidate(cmd, a); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration, graphs and routes are valid! ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, a *app.App) error {
	var errs []error
	for _, t := range a.Registry.Types() {
		g, _ := a.Registry.Graph(t)
		if err := workflow.Validate(g); err != nil {
			errs = append(errs, fmt.Errorf("graph %s: %w", t, err))
		}
	}

	for _, r := range a.Dispatcher.Table().Routes() {
		phase := nodes.PhaseDefault
		if r.Kind == dispatch.KindSingleShot {
			phase = nodes.PhaseAnalysis
		}
		if _, err := a.Resolver.Resolve(cmd.Context(), r.Topic, phase, domain.LatestVersion); err != nil {
			errs = append(errs, fmt.Errorf("route %s %s: %w", r.Method, r.Path, err))
		}
	}
	return errors.Join(errs...)
}
