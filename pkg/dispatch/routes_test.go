package dispatch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name    string
		routes  []Route
		wantErr string
	}{
		{"missing path", []Route{{Topic: "swot", Kind: KindSingleShot}}, "path is required"},
		{"missing topic", []Route{{Path: "/a", Kind: KindSingleShot}}, "topic is required"},
		{"unknown kind", []Route{{Path: "/a", Topic: "x", Kind: "batch"}}, `unknown kind "batch"`},
		{"duplicate", []Route{
			{Path: "/a", Topic: "x", Kind: KindSingleShot},
			{Method: "post", Path: "a/", Topic: "y", Kind: KindSingleShot},
		}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.routes...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTable_Lookup(t *testing.T) {
	table, err := NewTable(DefaultRoutes()...)
	require.NoError(t, err)

	r, ok := table.Lookup("post", "analyze/swot/")
	require.True(t, ok)
	assert.Equal(t, "swot", r.Topic)
	assert.Equal(t, KindSingleShot, r.Kind)

	_, ok = table.Lookup("GET", "/analyze/swot")
	assert.False(t, ok)

	routes := table.Routes()
	assert.Len(t, routes, len(DefaultRoutes()))
	assert.Equal(t, "/analyze/mission", routes[0].Path)
}

func TestLoadRoutes(t *testing.T) {
	dir := t.TempDir()

	t.Run("YAML", func(t *testing.T) {
		path := filepath.Join(dir, "routes.yaml")
		content := `routes:
  - path: /coach/purpose
    topic: purpose
    kind: conversational
  - method: POST
    path: /analyze/pitch
    topic: pitch
    kind: single_shot
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		table, err := LoadRoutes(path)
		require.NoError(t, err)
		r, ok := table.Lookup("POST", "/coach/purpose")
		require.True(t, ok)
		assert.Equal(t, KindConversational, r.Kind)
		assert.Len(t, table.Routes(), 2)
	})

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "routes.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"routes":[{"path":"/x","topic":"x","kind":"single_shot"}]}`), 0o644))

		table, err := LoadRoutes(path)
		require.NoError(t, err)
		_, ok := table.Lookup("POST", "/x")
		assert.True(t, ok)
	})

	t.Run("Missing File Uses Defaults", func(t *testing.T) {
		table, err := LoadRoutes(filepath.Join(dir, "nope.yaml"))
		require.NoError(t, err)
		assert.Len(t, table.Routes(), len(DefaultRoutes()))
	})

	t.Run("Invalid Route", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("routes:\n  - path: /x\n    kind: single_shot\n"), 0o644))
		_, err := LoadRoutes(path)
		assert.ErrorContains(t, err, "topic is required")
	})
}
