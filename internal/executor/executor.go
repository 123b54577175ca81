// Package executor models the executors declared for a host: one TOML
// declaration per executor, loaded from the executors directory and
// normalized with host identity before reconciliation.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/runnersync/runnersync/internal/config"
	"github.com/runnersync/runnersync/internal/identity"
	"github.com/runnersync/runnersync/internal/tags"
)

// Declaration is one executor entry. The name is unique within the
// instance and the derived description is the key that matches the
// declaration to its remote registration.
type Declaration struct {
	// Name identifies the executor on this host ("shell", "batch").
	// Defaults to the declaration file's stem.
	Name string `toml:"name"`

	// ExecutorType selects the runner agent execution mode. Defaults
	// to Name.
	ExecutorType string `toml:"executor_type"`

	// URL is the coordinator endpoint this executor registers against.
	URL string `toml:"url"`

	// Description is derived during normalization as hostname-name
	// unless the declaration sets it explicitly. It must be unique
	// among all declarations sharing a URL.
	Description string `toml:"description,omitempty"`

	// Tags is filled by the tag generator during normalization.
	Tags []string `toml:"tags,omitempty"`

	// Token is the runner token, attached by reconciliation. A
	// declaration without a token never reaches the emitted config.
	Token string `toml:"-"`

	// ID is the remote registration id, attached by reconciliation.
	ID int `toml:"-"`
}

// Registered reports whether the declaration carries a token.
func (d *Declaration) Registered() bool {
	return d.Token != ""
}

// Set holds every executor declared for this host. Declarations are
// loaded fresh each run and discarded afterwards; the only state that
// outlives a run is the snapshot written at the end.
type Set struct {
	Declarations []*Declaration
}

// LoadDir reads every .toml file in dir as one declaration. Files with
// other extensions are ignored.
func LoadDir(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, config.Errorf("failed to read executors directory %s: %v", dir, err)
	}

	set := &Set{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, config.Errorf("failed to read executor declaration %s: %v", path, err)
		}

		var decl Declaration
		if err := toml.Unmarshal(data, &decl); err != nil {
			return nil, config.Errorf("failed to parse executor declaration %s: %v", path, err)
		}
		if decl.Name == "" {
			decl.Name = strings.TrimSuffix(entry.Name(), ".toml")
		}
		if decl.ExecutorType == "" {
			decl.ExecutorType = decl.Name
		}
		set.Declarations = append(set.Declarations, &decl)
	}

	sort.Slice(set.Declarations, func(i, j int) bool {
		return set.Declarations[i].Name < set.Declarations[j].Name
	})
	return set, nil
}

// Normalize validates the declarations and derives the description and
// tag set for each one. It fails with a ConfigurationError on missing
// required fields or duplicate names, before anything talks to a
// coordinator.
func (s *Set) Normalize(ctx context.Context, ident *identity.Identity, gen *tags.Generator) error {
	var errs []error
	seen := make(map[string]bool, len(s.Declarations))

	for _, d := range s.Declarations {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("executor declaration with url %q has no name", d.URL))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("duplicate executor name %q", d.Name))
			continue
		}
		seen[d.Name] = true

		if d.URL == "" {
			errs = append(errs, fmt.Errorf("executor %s: url is required", d.Name))
		}
		if d.Description == "" {
			d.Description = ident.Hostname + "-" + d.Name
		}
	}
	if len(errs) > 0 {
		return &config.ConfigurationError{Errors: errs}
	}

	for _, d := range s.Declarations {
		if len(d.Tags) > 0 {
			continue
		}
		tagList, err := gen.Generate(ctx, d.ExecutorType)
		if err != nil {
			return fmt.Errorf("executor %s: %w", d.Name, err)
		}
		d.Tags = tagList
	}
	return nil
}

// ByDescription indexes the declarations sharing an endpoint URL by
// their description. Two declarations with the same description under
// one endpoint cannot be told apart remotely, so a collision fails
// before any remote call is made.
func (s *Set) ByDescription(url string) (map[string]*Declaration, error) {
	byDesc := make(map[string]*Declaration)
	var errs []error
	for _, d := range s.Declarations {
		if d.URL != url {
			continue
		}
		if other, ok := byDesc[d.Description]; ok {
			errs = append(errs, fmt.Errorf(
				"executors %s and %s share description %q for endpoint %s",
				other.Name, d.Name, d.Description, url))
			continue
		}
		byDesc[d.Description] = d
	}
	if len(errs) > 0 {
		return nil, &config.ConfigurationError{Errors: errs}
	}
	return byDesc, nil
}

// ForURL returns the declarations registering against an endpoint, in
// name order.
func (s *Set) ForURL(url string) []*Declaration {
	var out []*Declaration
	for _, d := range s.Declarations {
		if d.URL == url {
			out = append(out, d)
		}
	}
	return out
}

// MissingToken returns the declarations for an endpoint that still lack
// a token.
func (s *Set) MissingToken(url string) []*Declaration {
	var out []*Declaration
	for _, d := range s.Declarations {
		if d.URL == url && !d.Registered() {
			out = append(out, d)
		}
	}
	return out
}

// URLs returns the distinct endpoint URLs in declaration order.
func (s *Set) URLs() []string {
	seen := make(map[string]bool)
	var urls []string
	for _, d := range s.Declarations {
		if d.URL == "" || seen[d.URL] {
			continue
		}
		seen[d.URL] = true
		urls = append(urls, d.URL)
	}
	return urls
}
