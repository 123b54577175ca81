package tags

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// Capturer contributes host-derived properties to a tag set before
// classification and flattening. It is injected at startup; deployments
// that do not want host inspection wire in NopCapturer.
type Capturer interface {
	Capture(ctx context.Context, props *Properties) error
}

// NopCapturer contributes nothing.
type NopCapturer struct{}

// Capture implements Capturer.
func (NopCapturer) Capture(context.Context, *Properties) error { return nil }

// HostCapturer fills platform and architecture properties from the
// local system. Properties already set are left untouched.
type HostCapturer struct {
	logger zerolog.Logger
}

// NewHostCapturer creates a capturer backed by the local system.
func NewHostCapturer(logger zerolog.Logger) *HostCapturer {
	return &HostCapturer{
		logger: logger.With().Str("component", "tag_capture").Logger(),
	}
}

// Capture implements Capturer.
func (c *HostCapturer) Capture(ctx context.Context, props *Properties) error {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read host info: %w", err)
	}

	if props.OS == "" {
		props.OS = info.Platform
		if props.OS == "" {
			props.OS = info.OS
		}
	}
	if props.Architecture == "" {
		props.Architecture = info.KernelArch
	}

	cpus, err := cpu.InfoWithContext(ctx)
	if err != nil || len(cpus) == 0 {
		c.logger.Debug().Err(err).Msg("cpu info unavailable, skipping micro-architecture properties")
		return nil
	}
	if len(props.MicroArch) == 0 {
		props.MicroArch = microArchLevels(cpus[0].Flags)
	}
	return nil
}

// x86-64 micro-architecture feature levels as defined by the psABI.
// Each level requires every flag listed and all previous levels.
var microArchFeatures = []struct {
	name  string
	flags []string
}{
	{"x86-64-v2", []string{"cx16", "popcnt", "sse4_1", "sse4_2", "ssse3"}},
	{"x86-64-v3", []string{"avx", "avx2", "bmi1", "bmi2", "f16c", "fma", "movbe"}},
	{"x86-64-v4", []string{"avx512f", "avx512bw", "avx512cd", "avx512dq", "avx512vl"}},
}

// microArchLevels maps CPU feature flags to the feature levels the host
// satisfies, most specific first.
func microArchLevels(flags []string) []string {
	have := make(map[string]bool, len(flags))
	for _, f := range flags {
		have[f] = true
	}

	var levels []string
	for _, level := range microArchFeatures {
		satisfied := true
		for _, f := range level.flags {
			if !have[f] {
				satisfied = false
				break
			}
		}
		if !satisfied {
			break
		}
		levels = append(levels, level.name)
	}

	for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
		levels[i], levels[j] = levels[j], levels[i]
	}
	return levels
}
