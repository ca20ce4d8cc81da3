package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aretw0/coachflow/pkg/domain"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect and publish prompt templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored template version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		tpls, err := a.Templates.List(cmd.Context())
		if err != nil {
			return err
		}
		sort.Slice(tpls, func(i, j int) bool {
			if tpls[i].Topic != tpls[j].Topic {
				return tpls[i].Topic < tpls[j].Topic
			}
			if tpls[i].Phase != tpls[j].Phase {
				return tpls[i].Phase < tpls[j].Phase
			}
			return tpls[i].Version < tpls[j].Version
		})

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TOPIC\tPHASE\tVERSION\tLATEST")
		for _, t := range tpls {
			latest := ""
			if t.IsLatest {
				latest = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.Topic, t.Phase, t.Version, latest)
		}
		return w.Flush()
	},
}

var templatesPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a new template version and flag it latest",
	Long: `Publishes the next version of (topic, phase). Prompt flags accept a literal
text or @path to read the text from a file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Publisher == nil {
			return fmt.Errorf("the %s template store is read-only", a.Config.Templates.Driver)
		}

		topic, _ := cmd.Flags().GetString("topic")
		phase, _ := cmd.Flags().GetString("phase")
		system, err := flagText(cmd, "system")
		if err != nil {
			return err
		}
		user, err := flagText(cmd, "user")
		if err != nil {
			return err
		}

		tpl, err := a.Publisher.Publish(cmd.Context(), domain.PromptTemplate{
			Topic:             topic,
			Phase:             phase,
			SystemPrompt:      system,
			UserPromptPattern: user,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published %s/%s version %d\n", tpl.Topic, tpl.Phase, tpl.Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd, templatesPublishCmd)

	templatesPublishCmd.Flags().String("topic", "", "Template topic (e.g. values)")
	templatesPublishCmd.Flags().String("phase", "default", "Template phase")
	templatesPublishCmd.Flags().String("system", "", "System prompt, or @file")
	templatesPublishCmd.Flags().String("user", "", "User prompt pattern with {{placeholders}}, or @file")
	_ = templatesPublishCmd.MarkFlagRequired("topic")
	_ = templatesPublishCmd.MarkFlagRequired("system")
}

func flagText(cmd *cobra.Command, name string) (string, error) {
	v, _ := cmd.Flags().GetString(name)
	path, ok := strings.CutPrefix(v, "@")
	if !ok {
		return v, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read --%s: %w", name, err)
	}
	return string(data), nil
}
