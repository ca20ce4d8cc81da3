// Package testutils holds fixtures shared by the template store tests.
package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/coachflow/pkg/domain"
)

// NewTemplateRepo initializes a Loam repository in a temp dir and returns its
// absolute path with the repository.
func NewTemplateRepo(t *testing.T, opts ...loam.Option) (string, core.Repository) {
	t.Helper()

	dir, err := filepath.Abs(t.TempDir())
	require.NoError(t, err)

	repo, err := loam.Init(dir, opts...)
	require.NoError(t, err, "Failed to init loam repo")
	return dir, repo
}

// WriteTemplate stores tpl as <dir>/<topic>/<phase>/v<version>.md, with the
// metadata as frontmatter and the system prompt as body.
func WriteTemplate(t *testing.T, dir string, tpl domain.PromptTemplate) {
	t.Helper()
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "topic: %s\nphase: %s\nversion: %d\nlatest: %t\n", tpl.Topic, tpl.Phase, tpl.Version, tpl.IsLatest)
	fmt.Fprintf(&b, "user_prompt: %q\n", tpl.UserPromptPattern)
	fmt.Fprintf(&b, "parameters: [%s]\n", strings.Join(tpl.DeclaredParameters, ", "))
	if !tpl.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "created_at: %q\n", tpl.CreatedAt.Format(time.RFC3339))
	}
	b.WriteString("---\n")
	b.WriteString(tpl.SystemPrompt)
	b.WriteString("\n")

	sub := filepath.Join(dir, tpl.Topic, tpl.Phase)
	require.NoError(t, os.MkdirAll(sub, 0o755))
	name := filepath.Join(sub, fmt.Sprintf("v%d.md", tpl.Version))
	require.NoError(t, os.WriteFile(name, []byte(b.String()), 0o644))
}
