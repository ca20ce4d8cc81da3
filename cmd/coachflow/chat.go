package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/coachflow/internal/cli"
	"github.com/aretw0/coachflow/internal/presentation/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat [topic]",
	Short: "Talk to the coach in the terminal",
	Long: `Starts a coaching conversation on topic (default "values") and drives it
in-process. Use --session to continue a saved conversation and --offline to
practice without any LLM provider.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		a, err := loadApp(sc, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		topic := "values"
		if len(args) > 0 {
			topic = args[0]
		}
		sessionID, _ := cmd.Flags().GetString("session")
		userID, _ := cmd.Flags().GetString("user")
		tenantID, _ := cmd.Flags().GetString("tenant")
		quiet, _ := cmd.Flags().GetBool("quiet")

		if !quiet && tui.IsInteractive() {
			tui.PrintBanner(cmd.OutOrStdout())
		}

		err = cli.RunChat(sc, a.Sessions, cli.ChatOptions{
			Topic:     topic,
			UserID:    userID,
			TenantID:  tenantID,
			SessionID: sessionID,
			In:        os.Stdin,
			Out:       cmd.OutOrStdout(),
			Logger:    a.Logger,
			Quiet:     quiet,
		})
		if sig := sc.Signal(); sig != nil {
			a.Logger.Debug("Chat interrupted", "signal", sig.String())
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("session", "", "Continue the session with this ID")
	chatCmd.Flags().String("user", os.Getenv("USER"), "User ID passed to the coach")
	chatCmd.Flags().String("tenant", "", "Tenant ID passed to the coach")
	chatCmd.Flags().BoolP("quiet", "q", false, "Suppress banner and system messages")
}
