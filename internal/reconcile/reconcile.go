// Package reconcile converges the executors declared on this host with
// the runner registrations held by the remote coordinators. For each
// declaration it decides whether to keep an existing registration,
// delete and re-register a stale one, or register fresh, and it removes
// remote registrations that no local declaration claims anymore.
//
// The coordinator has no token refresh primitive, so a stale
// registration is always replaced by delete-then-register. Local
// declarations are matched to remote records by description; listings
// are always scoped to this host's identity tags so concurrent runs on
// sibling hosts never touch each other's registrations.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/runnersync/runnersync/internal/executor"
	"github.com/runnersync/runnersync/internal/identity"
	"github.com/runnersync/runnersync/internal/registry"
	"github.com/runnersync/runnersync/internal/snapshot"
	"github.com/runnersync/runnersync/pkg/metrics"
)

// Client is the slice of the registry client the reconciler uses.
type Client interface {
	ListRunners(ctx context.Context, filter registry.ListFilter) ([]registry.RunnerSummary, error)
	RunnerDetail(ctx context.Context, id int) (*registry.Runner, error)
	VerifyToken(ctx context.Context, token string) (registry.TokenStatus, error)
	Register(ctx context.Context, description string, tagList []string, registrationSecret string) (*registry.Registration, error)
	Delete(ctx context.Context, token string) error
}

// Endpoint pairs one coordinator client with the secret that mints new
// tokens on it.
type Endpoint struct {
	URL                string
	RegistrationSecret string
	Client             Client
}

// Reconciler drives the per-endpoint reconciliation passes.
type Reconciler struct {
	identity  *identity.Identity
	endpoints map[string]Endpoint
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New creates a reconciler for one host.
func New(ident *identity.Identity, endpoints []Endpoint, m *metrics.Metrics, logger zerolog.Logger) *Reconciler {
	byURL := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		byURL[ep.URL] = ep
	}
	return &Reconciler{
		identity:  ident,
		endpoints: byURL,
		metrics:   m,
		logger:    logger.With().Str("component", "reconcile").Logger(),
	}
}

// Run converges every declaration in the set and returns the resulting
// name to registration mapping for the snapshot. A nil snap selects
// stateless operation: remote state is always discovered through a
// listing pass. With a snapshot, previously known tokens are seeded and
// verified one declaration at a time; declarations the snapshot does
// not cover fall back to the listing pass.
//
// On success every declaration carries a token. On any error the local
// side is left unemitted: the caller must not write a config file.
func (r *Reconciler) Run(ctx context.Context, set *executor.Set, snap map[string]snapshot.Entry) (map[string]snapshot.Entry, error) {
	// Description collisions would make remote matching ambiguous.
	// Every endpoint is validated up front so a collision on a later
	// endpoint cannot abort the run after an earlier one was mutated.
	indexByURL := make(map[string]map[string]*executor.Declaration, len(set.URLs()))
	for _, url := range set.URLs() {
		if _, ok := r.endpoints[url]; !ok {
			return nil, fmt.Errorf("no endpoint configured for %s", url)
		}
		byDesc, err := set.ByDescription(url)
		if err != nil {
			return nil, err
		}
		indexByURL[url] = byDesc
	}

	for _, url := range set.URLs() {
		ep := r.endpoints[url]
		byDesc := indexByURL[url]

		if snap == nil {
			if err := r.syncEndpoint(ctx, ep, set, byDesc); err != nil {
				return nil, err
			}
			continue
		}

		needListing := false
		for _, d := range set.ForURL(url) {
			entry, ok := snap[d.Name]
			if !ok || entry.Token == "" {
				needListing = true
				continue
			}
			d.Token = entry.Token
			d.ID = entry.ID
		}

		for _, d := range set.ForURL(url) {
			if !d.Registered() {
				continue
			}
			if err := r.refresh(ctx, ep, d); err != nil {
				return nil, err
			}
		}

		if needListing {
			if err := r.syncEndpoint(ctx, ep, set, byDesc); err != nil {
				return nil, err
			}
		}
	}

	var missing []string
	for _, d := range set.Declarations {
		if !d.Registered() {
			missing = append(missing, d.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("reconciliation finished without a token for %s", strings.Join(missing, ", "))
	}

	result := make(map[string]snapshot.Entry, len(set.Declarations))
	for _, d := range set.Declarations {
		result[d.Name] = snapshot.Entry{ID: d.ID, Token: d.Token}
	}
	return result, nil
}

// syncEndpoint is the listing pass: discover the host's remote runners,
// adopt tokens for matching declarations, delete orphans, then register
// whatever still lacks a token.
func (r *Reconciler) syncEndpoint(ctx context.Context, ep Endpoint, set *executor.Set, byDesc map[string]*executor.Declaration) error {
	scope := r.identity.ScopeTags()
	if len(scope) == 0 {
		return fmt.Errorf("refusing to list runners on %s without identity tags", ep.URL)
	}

	summaries, err := ep.Client.ListRunners(ctx, registry.ListFilter{Tags: scope})
	if err != nil {
		return err
	}

	for _, summary := range summaries {
		detail, err := ep.Client.RunnerDetail(ctx, summary.ID)
		if err != nil {
			return err
		}

		if d, ok := byDesc[detail.Description]; ok {
			if !d.Registered() {
				d.Token = detail.Token
				d.ID = detail.ID
				r.metrics.Adoptions.Inc()
				r.logger.Info().
					Str("executor", d.Name).
					Str("description", d.Description).
					Int("id", detail.ID).
					Msg("adopted existing registration")
				continue
			}
			if detail.ID == d.ID || detail.Token == d.Token {
				continue
			}
			// A second record under an already matched description is
			// left over from an interrupted run. Swept like an orphan.
		}

		// Orphan: registered remotely under this host's tags but no
		// longer declared locally. Cleanup is best-effort.
		r.logger.Warn().
			Str("description", detail.Description).
			Int("id", detail.ID).
			Msg("deleting orphaned registration")
		if err := ep.Client.Delete(ctx, detail.Token); err != nil {
			r.metrics.DeletionFailures.Inc()
			r.logger.Warn().Err(err).
				Str("description", detail.Description).
				Msg("failed to delete orphaned registration, leaving it behind")
			continue
		}
		r.metrics.Deletions.Inc()
	}

	for _, d := range set.MissingToken(ep.URL) {
		if err := r.register(ctx, ep, d); err != nil {
			return err
		}
	}
	return nil
}

// refresh is the staleness pass for one declaration seeded from the
// snapshot: verify its token and replace the registration when the
// coordinator no longer accepts it. A valid token performs no mutating
// call.
func (r *Reconciler) refresh(ctx context.Context, ep Endpoint, d *executor.Declaration) error {
	status, err := ep.Client.VerifyToken(ctx, d.Token)
	if err != nil {
		return fmt.Errorf("executor %s: %w", d.Name, err)
	}
	r.metrics.Verifications.Inc()

	if status == registry.TokenStatusValid {
		r.logger.Debug().Str("executor", d.Name).Msg("token still valid")
		return nil
	}

	r.logger.Info().
		Str("executor", d.Name).
		Str("description", d.Description).
		Msg("token no longer valid, re-registering")

	// No refresh endpoint exists, so the stale registration is removed
	// and replaced. The old token was already rejected, so a failed
	// delete only leaves garbage behind and is not worth aborting for.
	if err := ep.Client.Delete(ctx, d.Token); err != nil {
		r.metrics.DeletionFailures.Inc()
		r.logger.Warn().Err(err).Str("executor", d.Name).Msg("failed to delete stale registration")
	} else {
		r.metrics.Deletions.Inc()
	}

	d.Token = ""
	d.ID = 0
	return r.register(ctx, ep, d)
}

func (r *Reconciler) register(ctx context.Context, ep Endpoint, d *executor.Declaration) error {
	reg, err := ep.Client.Register(ctx, d.Description, d.Tags, ep.RegistrationSecret)
	if err != nil {
		return fmt.Errorf("failed to register executor %s: %w", d.Name, err)
	}
	d.Token = reg.Token
	d.ID = reg.ID
	r.metrics.Registrations.Inc()
	r.logger.Info().
		Str("executor", d.Name).
		Str("description", d.Description).
		Int("id", reg.ID).
		Msg("registered executor")
	return nil
}
