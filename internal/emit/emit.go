// Package emit renders the reconciled executor set into the
// configuration file consumed by the runner agent. A user-supplied
// template takes precedence; without one the agent's native TOML is
// generated. Output is written atomically so the agent never observes a
// partial config.
package emit

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/runnersync/runnersync/internal/config"
	"github.com/runnersync/runnersync/internal/executor"
	"github.com/runnersync/runnersync/internal/identity"
)

// TemplateError reports an emission-time failure: a placeholder with no
// resolved value, or a declaration that reached emission without a
// token. Both indicate a logic bug upstream; reconciliation guarantees
// every declaration carries a token before emission runs. An unreadable
// or unparseable template is the operator's mistake and surfaces as a
// ConfigurationError instead.
type TemplateError struct {
	Msg string
}

func (e *TemplateError) Error() string {
	return e.Msg
}

func errorf(format string, args ...interface{}) *TemplateError {
	return &TemplateError{Msg: fmt.Sprintf(format, args...)}
}

// Emitter writes the runner agent configuration.
type Emitter struct {
	identity *identity.Identity
	logger   zerolog.Logger
}

// New creates a config emitter for one host.
func New(ident *identity.Identity, logger zerolog.Logger) *Emitter {
	return &Emitter{
		identity: ident,
		logger:   logger.With().Str("component", "emit").Logger(),
	}
}

// Emit writes the agent config to path. When templatePath exists its
// content is rendered with the resolved placeholders; otherwise the
// native TOML form is generated.
func (e *Emitter) Emit(path, templatePath string, set *executor.Set) error {
	var (
		rendered []byte
		err      error
	)

	text, readErr := os.ReadFile(templatePath)
	switch {
	case readErr == nil:
		rendered, err = e.Render(string(text), set)
	case errors.Is(readErr, fs.ErrNotExist):
		rendered, err = e.RenderTOML(set)
	default:
		return config.Errorf("failed to read config template %s: %v", templatePath, readErr)
	}
	if err != nil {
		return err
	}

	if err := writeAtomic(path, rendered); err != nil {
		return err
	}

	e.logger.Info().Str("path", path).Int("executors", len(set.Declarations)).Msg("wrote runner config")
	return nil
}

// Render substitutes the named placeholders into a template. Available
// placeholders are "hostname" and one per executor name, resolving to
// that executor's token. A placeholder with no value fails the render.
func (e *Emitter) Render(text string, set *executor.Set) ([]byte, error) {
	values := map[string]string{
		"hostname": e.identity.Hostname,
	}
	for _, d := range set.Declarations {
		if !d.Registered() {
			return nil, errorf("executor %s reached emission without a token", d.Name)
		}
		values[d.Name] = d.Token
	}

	tmpl, err := template.New("config").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, config.Errorf("failed to parse config template: %v", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, values); err != nil {
		return nil, errorf("failed to render config template: %v", err)
	}
	return buf.Bytes(), nil
}

// runnersFile is the agent's native configuration document.
type runnersFile struct {
	Runners []runnerEntry `toml:"runners"`
}

type runnerEntry struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Token    string `toml:"token"`
	Executor string `toml:"executor"`
}

// RenderTOML generates the agent's native config: one [[runners]] table
// per declaration.
func (e *Emitter) RenderTOML(set *executor.Set) ([]byte, error) {
	doc := runnersFile{Runners: make([]runnerEntry, 0, len(set.Declarations))}
	for _, d := range set.Declarations {
		if !d.Registered() {
			return nil, errorf("executor %s reached emission without a token", d.Name)
		}
		doc.Runners = append(doc.Runners, runnerEntry{
			Name:     d.Description,
			URL:      d.URL,
			Token:    d.Token,
			Executor: d.ExecutorType,
		})
	}

	rendered, err := toml.Marshal(doc)
	if err != nil {
		return nil, errorf("failed to encode runner config: %v", err)
	}
	return rendered, nil
}

// writeAtomic replaces path via a temp file and rename. The config
// carries runner tokens, so it is created owner-readable only.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create config temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config %s: %w", path, err)
	}
	return nil
}
