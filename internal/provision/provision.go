// Package provision orchestrates one reconciliation run: pre-flight
// permission checks, loading the instance config and executor
// declarations, resolving host identity, reconciling against every
// coordinator and finally emitting the runner agent config and the
// state snapshot.
package provision

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnersync/runnersync/internal/config"
	"github.com/runnersync/runnersync/internal/emit"
	"github.com/runnersync/runnersync/internal/executor"
	"github.com/runnersync/runnersync/internal/identity"
	"github.com/runnersync/runnersync/internal/reconcile"
	"github.com/runnersync/runnersync/internal/registry"
	"github.com/runnersync/runnersync/internal/snapshot"
	"github.com/runnersync/runnersync/internal/tags"
	"github.com/runnersync/runnersync/pkg/metrics"
)

// Options select what a run operates on and how.
type Options struct {
	// Prefix is the configuration directory: instance config, executor
	// declarations, template, output and snapshot all live under it.
	Prefix string

	// CoordinatorURL, when set, is the default endpoint URL for
	// declarations that do not name one.
	CoordinatorURL string

	// Stateless disables the snapshot entirely; remote state is
	// discovered from the coordinator on every run.
	Stateless bool

	// PushgatewayURL, when set, receives the run's metrics. Push
	// failures are logged and never fail the run.
	PushgatewayURL string
}

// Provisioner runs reconciliations.
type Provisioner struct {
	opts    Options
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a provisioner.
func New(opts Options, m *metrics.Metrics, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		opts:    opts,
		metrics: m,
		logger:  logger.With().Str("component", "provision").Logger(),
	}
}

// Run performs one full reconciliation. On any error no config file is
// written; the previous one, if any, stays untouched.
func (p *Provisioner) Run(ctx context.Context) error {
	started := time.Now()
	defer func() {
		p.metrics.RunDuration.Observe(time.Since(started).Seconds())
	}()

	executorsDir := filepath.Join(p.opts.Prefix, config.ExecutorsDir)

	// The tree holds registration secrets and runner tokens.
	if err := config.CheckOwnerOnly(p.opts.Prefix, executorsDir); err != nil {
		return err
	}

	cfg, err := config.Load(p.opts.Prefix)
	if err != nil {
		return err
	}

	ident, err := identity.Resolve(ctx, cfg.Instance)
	if err != nil {
		return err
	}
	p.logger.Info().
		Str("hostname", ident.Hostname).
		Str("instance", ident.Instance).
		Bool("stateless", p.opts.Stateless).
		Msg("starting reconciliation")

	var schema *tags.Schema
	if cfg.TagSchema != "" {
		schema, err = tags.LoadSchema(cfg.TagSchema)
		if err != nil {
			return err
		}
	}
	gen := tags.NewGenerator(ident, tags.NewHostCapturer(p.logger), schema, cfg.EnvTags, p.logger)

	set, err := executor.LoadDir(executorsDir)
	if err != nil {
		return err
	}
	if len(set.Declarations) == 0 {
		return config.Errorf("no executor declarations found in %s", executorsDir)
	}
	for _, d := range set.Declarations {
		if d.URL == "" {
			d.URL = p.opts.CoordinatorURL
		}
	}
	if err := set.Normalize(ctx, ident, gen); err != nil {
		return err
	}

	snapshotPath := filepath.Join(p.opts.Prefix, config.SnapshotFile)
	var snap map[string]snapshot.Entry
	if !p.opts.Stateless {
		snap, err = snapshot.Load(snapshotPath)
		if err != nil {
			return err
		}
	}

	endpoints := make([]reconcile.Endpoint, 0, len(set.URLs()))
	for _, url := range set.URLs() {
		ep := cfg.Endpoint(url)
		if ep == nil {
			return config.Errorf("no endpoint configured for %s", url)
		}
		if ep.ReadSecret == "" {
			// Listing needs the read secret; whether a listing pass will
			// run is known up front, so the gap fails before any remote
			// call instead of as a 401 mid-run.
			if p.opts.Stateless {
				return config.Errorf("endpoint %s: a read secret is required for stateless operation", url)
			}
			if missing := missingFromSnapshot(set, url, snap); len(missing) > 0 {
				return config.Errorf("endpoint %s: a read secret is required to discover executors absent from the snapshot (%s)",
					url, strings.Join(missing, ", "))
			}
		}
		endpoints = append(endpoints, reconcile.Endpoint{
			URL:                ep.URL,
			RegistrationSecret: ep.RegistrationSecret,
			Client:             registry.NewClient(ep.URL, ep.ReadSecret, p.logger),
		})
	}

	rec := reconcile.New(ident, endpoints, p.metrics, p.logger)
	result, err := rec.Run(ctx, set, snap)
	if err != nil {
		return err
	}

	emitter := emit.New(ident, p.logger)
	outputPath := filepath.Join(p.opts.Prefix, config.OutputFile)
	templatePath := filepath.Join(p.opts.Prefix, config.TemplateFile)
	if err := emitter.Emit(outputPath, templatePath, set); err != nil {
		return err
	}

	if !p.opts.Stateless && !snapshot.Equal(snap, result) {
		if err := snapshot.Write(snapshotPath, result); err != nil {
			return err
		}
		p.logger.Info().Str("path", snapshotPath).Msg("updated snapshot")
	}

	p.pushMetrics(ident)

	p.logger.Info().
		Int("executors", len(set.Declarations)).
		Dur("duration", time.Since(started)).
		Msg("reconciliation complete")
	return nil
}

// missingFromSnapshot returns the names of an endpoint's declarations
// the snapshot holds no token for. Any such declaration forces the
// reconciler into its listing pass for that endpoint.
func missingFromSnapshot(set *executor.Set, url string, snap map[string]snapshot.Entry) []string {
	var missing []string
	for _, d := range set.ForURL(url) {
		if entry, ok := snap[d.Name]; !ok || entry.Token == "" {
			missing = append(missing, d.Name)
		}
	}
	return missing
}

// pushMetrics delivers the run's metrics to the configured Pushgateway.
// Best-effort: a scheduled job must not fail because its observability
// sink is down.
func (p *Provisioner) pushMetrics(ident *identity.Identity) {
	if p.opts.PushgatewayURL == "" {
		return
	}
	if err := p.metrics.Push(p.opts.PushgatewayURL, "runnersync", ident.Hostname); err != nil {
		p.logger.Warn().Err(err).Str("gateway", p.opts.PushgatewayURL).Msg("failed to push metrics")
	}
}
