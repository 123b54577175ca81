package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnersync/runnersync/internal/config"
	"github.com/runnersync/runnersync/internal/identity"
	"github.com/runnersync/runnersync/internal/tags"
)

func writeDeclarations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func testGenerator(t *testing.T) (*identity.Identity, *tags.Generator) {
	t.Helper()
	t.Setenv("PATH", t.TempDir())
	ident := &identity.Identity{
		Instance:      "main",
		Hostname:      "node01",
		ClusterFamily: "node",
	}
	gen := tags.NewGenerator(ident, tags.NopCapturer{}, nil, nil, zerolog.New(io.Discard))
	return ident, gen
}

func TestLoadDir(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{
		"shell.toml": `url = "https://ci.example.com"`,
		"batch.toml": "name = \"batch\"\nexecutor_type = \"batch\"\nurl = \"https://ci.example.com\"\n",
		"README.md":  "not a declaration",
		"notes.txt":  "ignored",
	})

	set, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, set.Declarations, 2)

	assert.Equal(t, "batch", set.Declarations[0].Name)
	assert.Equal(t, "batch", set.Declarations[0].ExecutorType)
	assert.Equal(t, "shell", set.Declarations[1].Name)
	assert.Equal(t, "shell", set.Declarations[1].ExecutorType, "executor type defaults to name")
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)

	var cfgErr *config.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadDirInvalidTOML(t *testing.T) {
	dir := writeDeclarations(t, map[string]string{
		"broken.toml": "url = [unterminated",
	})

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.toml")
}

func TestNormalize(t *testing.T) {
	ident, gen := testGenerator(t)
	set := &Set{Declarations: []*Declaration{
		{Name: "shell", ExecutorType: "shell", URL: "https://ci.example.com"},
		{Name: "batch", ExecutorType: "batch", URL: "https://ci.example.com"},
	}}

	require.NoError(t, set.Normalize(context.Background(), ident, gen))

	assert.Equal(t, "node01-shell", set.Declarations[0].Description)
	assert.Contains(t, set.Declarations[0].Tags, "shell")
	assert.Equal(t, "node01-batch", set.Declarations[1].Description)
	assert.Contains(t, set.Declarations[1].Tags, "batch")
}

func TestNormalizeKeepsExplicitDescription(t *testing.T) {
	ident, gen := testGenerator(t)
	set := &Set{Declarations: []*Declaration{
		{Name: "shell", ExecutorType: "shell", URL: "https://ci.example.com", Description: "legacy-shell"},
	}}

	require.NoError(t, set.Normalize(context.Background(), ident, gen))
	assert.Equal(t, "legacy-shell", set.Declarations[0].Description)
}

func TestNormalizeErrors(t *testing.T) {
	ident, gen := testGenerator(t)

	tests := map[string]struct {
		set  *Set
		want string
	}{
		"missing url": {
			set: &Set{Declarations: []*Declaration{
				{Name: "shell", ExecutorType: "shell"},
			}},
			want: "url is required",
		},
		"missing name": {
			set: &Set{Declarations: []*Declaration{
				{URL: "https://ci.example.com"},
			}},
			want: "has no name",
		},
		"duplicate name": {
			set: &Set{Declarations: []*Declaration{
				{Name: "shell", ExecutorType: "shell", URL: "https://ci.example.com"},
				{Name: "shell", ExecutorType: "shell", URL: "https://other.example.com"},
			}},
			want: "duplicate executor name",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.set.Normalize(context.Background(), ident, gen)
			require.Error(t, err)

			var cfgErr *config.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestByDescription(t *testing.T) {
	set := &Set{Declarations: []*Declaration{
		{Name: "shell", URL: "https://ci.example.com", Description: "node01-shell"},
		{Name: "batch", URL: "https://ci.example.com", Description: "node01-batch"},
		{Name: "other", URL: "https://other.example.com", Description: "node01-other"},
	}}

	byDesc, err := set.ByDescription("https://ci.example.com")
	require.NoError(t, err)
	require.Len(t, byDesc, 2)
	assert.Equal(t, "shell", byDesc["node01-shell"].Name)
	assert.Equal(t, "batch", byDesc["node01-batch"].Name)
}

func TestByDescriptionCollision(t *testing.T) {
	set := &Set{Declarations: []*Declaration{
		{Name: "shell", URL: "https://ci.example.com", Description: "node01-runner"},
		{Name: "batch", URL: "https://ci.example.com", Description: "node01-runner"},
	}}

	_, err := set.ByDescription("https://ci.example.com")
	require.Error(t, err)

	var cfgErr *config.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "shell")
	assert.Contains(t, err.Error(), "batch")
}

func TestMissingToken(t *testing.T) {
	set := &Set{Declarations: []*Declaration{
		{Name: "shell", URL: "https://ci.example.com", Token: "glrt-abc"},
		{Name: "batch", URL: "https://ci.example.com"},
	}}

	missing := set.MissingToken("https://ci.example.com")
	require.Len(t, missing, 1)
	assert.Equal(t, "batch", missing[0].Name)

	assert.True(t, set.Declarations[0].Registered())
	assert.False(t, set.Declarations[1].Registered())
}

func TestURLs(t *testing.T) {
	set := &Set{Declarations: []*Declaration{
		{Name: "a", URL: "https://ci.example.com"},
		{Name: "b", URL: "https://ci.example.com"},
		{Name: "c", URL: "https://other.example.com"},
	}}

	assert.Equal(t, []string{"https://ci.example.com", "https://other.example.com"}, set.URLs())
}
