package tags

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnersync/runnersync/internal/identity"
)

func testIdentity() *identity.Identity {
	return &identity.Identity{
		Instance:      "main",
		Hostname:      "node01",
		ClusterFamily: "node",
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func installCommand(t *testing.T, dir, name string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755)
	require.NoError(t, err)
}

func schedulerTags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		switch tag {
		case "lsf", "slurm", "cobalt":
			out = append(out, tag)
		}
	}
	return out
}

func TestGenerateIncludesIdentity(t *testing.T) {
	gen := NewGenerator(testIdentity(), NopCapturer{}, nil, nil, testLogger())

	tags, err := gen.Generate(context.Background(), "shell")
	require.NoError(t, err)

	require.NotEmpty(t, tags)
	assert.Equal(t, "node01", tags[0], "hostname is always the first tag")
	assert.Contains(t, tags, "node")
	assert.Contains(t, tags, "main")
	assert.Contains(t, tags, "shell")
}

func TestGenerateDeduplicates(t *testing.T) {
	ident := &identity.Identity{Instance: "node", Hostname: "node", ClusterFamily: "node"}
	gen := NewGenerator(ident, NopCapturer{}, nil, nil, testLogger())

	tags, err := gen.Generate(context.Background(), "shell")
	require.NoError(t, err)
	assert.Equal(t, []string{"node", "shell"}, tags)
}

func TestGenerateSchedulerPriority(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATH", dir)

	gen := NewGenerator(testIdentity(), NopCapturer{}, nil, nil, testLogger())
	ctx := context.Background()

	tags, err := gen.Generate(ctx, "batch")
	require.NoError(t, err)
	assert.Empty(t, schedulerTags(tags), "no scheduler installed")

	installCommand(t, dir, "cqsub")
	tags, err = gen.Generate(ctx, "batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"cobalt"}, schedulerTags(tags))

	installCommand(t, dir, "salloc")
	tags, err = gen.Generate(ctx, "batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"slurm"}, schedulerTags(tags), "salloc outranks cqsub")

	installCommand(t, dir, "bsub")
	tags, err = gen.Generate(ctx, "batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"lsf"}, schedulerTags(tags), "bsub outranks everything")
}

func TestGenerateShellSkipsSchedulerProbe(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATH", dir)
	installCommand(t, dir, "bsub")

	gen := NewGenerator(testIdentity(), NopCapturer{}, nil, nil, testLogger())
	tags, err := gen.Generate(context.Background(), "shell")
	require.NoError(t, err)
	assert.Empty(t, schedulerTags(tags))
}

func TestGenerateEnvTags(t *testing.T) {
	t.Setenv("RUNNERSYNC_TEST_FEATURE", "gpu")

	envNames := []string{"RUNNERSYNC_TEST_FEATURE", "RUNNERSYNC_TEST_DOES_NOT_EXIST"}
	gen := NewGenerator(testIdentity(), NopCapturer{}, nil, envNames, testLogger())

	tags, err := gen.Generate(context.Background(), "shell")
	require.NoError(t, err)
	assert.Contains(t, tags, "gpu")
	assert.NotContains(t, tags, "")
}

func TestFlattenOrder(t *testing.T) {
	p := Properties{
		Hostname:      "node01",
		ClusterFamily: "node",
		Instance:      "main",
		ExecutorType:  "batch",
		OS:            "debian",
		Architecture:  "x86_64",
		MicroArch:     []string{"x86-64-v3", "x86-64-v2"},
		Scheduler:     "slurm",
		Custom:        []string{"custom_gpu"},
	}

	want := []string{
		"node01", "node", "main", "batch", "debian", "x86_64",
		"x86-64-v3", "x86-64-v2", "slurm", "custom_gpu",
	}
	assert.Equal(t, want, p.Flatten())
}

func TestFlattenSkipsEmptyAndDuplicate(t *testing.T) {
	p := Properties{
		Hostname:      "node",
		ClusterFamily: "node",
		Instance:      "node",
		ExecutorType:  "shell",
		Custom:        []string{"shell", "extra"},
	}
	assert.Equal(t, []string{"node", "shell", "extra"}, p.Flatten())
}
