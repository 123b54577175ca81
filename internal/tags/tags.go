// Package tags produces the label set that identifies a host/executor
// pair to the coordinator. Tags scope remote listings and drive CI job
// placement, so the generated set is ordered, de-duplicated and never
// empty.
package tags

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/runnersync/runnersync/internal/identity"
)

// Properties is the structured form of a host's tag data, grouped the
// way the tag schema expects before being flattened into a tag list.
type Properties struct {
	Hostname      string   `json:"hostname"`
	ClusterFamily string   `json:"cluster_family,omitempty"`
	Instance      string   `json:"instance"`
	ExecutorType  string   `json:"executor_type"`
	OS            string   `json:"os,omitempty"`
	Architecture  string   `json:"architecture,omitempty"`
	MicroArch     []string `json:"micro-architecture,omitempty"`
	Scheduler     string   `json:"scheduler,omitempty"`
	Custom        []string `json:"custom,omitempty"`
}

// Flatten renders the property set as the ordered, de-duplicated tag
// list sent to the coordinator. The hostname is always first.
func (p *Properties) Flatten() []string {
	ordered := make([]string, 0, 8+len(p.MicroArch)+len(p.Custom))
	ordered = append(ordered, p.Hostname, p.ClusterFamily, p.Instance, p.ExecutorType, p.OS, p.Architecture)
	ordered = append(ordered, p.MicroArch...)
	ordered = append(ordered, p.Scheduler)
	ordered = append(ordered, p.Custom...)

	seen := make(map[string]bool, len(ordered))
	tags := make([]string, 0, len(ordered))
	for _, tag := range ordered {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// Batch schedulers probed in priority order. The first submit command
// found on PATH wins; at most one scheduler tag is emitted.
var schedulers = []struct {
	command string
	tag     string
}{
	{"bsub", "lsf"},
	{"salloc", "slurm"},
	{"cqsub", "cobalt"},
}

func detectScheduler() string {
	for _, s := range schedulers {
		if _, err := exec.LookPath(s.command); err == nil {
			return s.tag
		}
	}
	return ""
}

// Generator builds tag sets for the executors declared on one host.
type Generator struct {
	identity *identity.Identity
	capturer Capturer
	schema   *Schema
	envNames []string
	logger   zerolog.Logger
}

// NewGenerator creates a tag generator. The capturer contributes
// host-derived properties (use NopCapturer to disable host inspection),
// the schema is optional, and envNames lists environment variables
// whose values become additional tags when set.
func NewGenerator(ident *identity.Identity, capturer Capturer, schema *Schema, envNames []string, logger zerolog.Logger) *Generator {
	if capturer == nil {
		capturer = NopCapturer{}
	}
	return &Generator{
		identity: ident,
		capturer: capturer,
		schema:   schema,
		envNames: envNames,
		logger:   logger.With().Str("component", "tags").Logger(),
	}
}

// Generate produces the tag set for one executor type. When a schema is
// configured, environment-derived values are classified through it and
// the full property set is validated; a validation failure aborts the
// run before anything is registered.
func (g *Generator) Generate(ctx context.Context, executorType string) ([]string, error) {
	props := Properties{
		Hostname:      g.identity.Hostname,
		ClusterFamily: g.identity.ClusterFamily,
		Instance:      g.identity.Instance,
		ExecutorType:  executorType,
	}

	if err := g.capturer.Capture(ctx, &props); err != nil {
		return nil, fmt.Errorf("tag capture failed: %w", err)
	}

	if executorType == "batch" {
		props.Scheduler = detectScheduler()
	}

	env := g.envValues()
	if g.schema != nil {
		g.schema.Classify(&props, env)
		if err := g.schema.Validate(&props); err != nil {
			return nil, err
		}
	} else {
		props.Custom = append(props.Custom, env...)
	}

	tags := props.Flatten()
	if len(tags) == 0 {
		return nil, fmt.Errorf("generated tag set for executor type %q is empty", executorType)
	}

	g.logger.Debug().
		Str("executor_type", executorType).
		Strs("tags", tags).
		Msg("generated tags")

	return tags, nil
}

// envValues looks up the configured environment variable names. Unset
// or empty variables are skipped without error.
func (g *Generator) envValues() []string {
	var values []string
	for _, name := range g.envNames {
		if v := os.Getenv(name); v != "" {
			values = append(values, v)
		}
	}
	return values
}
