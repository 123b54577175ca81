//go:build integration

// Package e2e runs full reconciliation lifecycles against an in-memory
// coordinator.
package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runnersync/runnersync/internal/config"
)

const (
	registrationSecret = "reg-secret"
	readSecret         = "read-secret"
)

// coordinator is an in-memory runner registry with the coordinator's
// REST surface.
type coordinator struct {
	mu      sync.Mutex
	nextID  int
	runners map[int]runnerRecord

	RegisterCalls int
	DeleteCalls   int
	VerifyCalls   int

	// revoked tokens still exist remotely but fail verification,
	// simulating a coordinator-side token reset.
	revoked map[string]bool
}

type runnerRecord struct {
	ID          int      `json:"id"`
	Token       string   `json:"token"`
	Description string   `json:"description"`
	TagList     []string `json:"tag_list"`
}

func newCoordinator() *coordinator {
	return &coordinator{
		nextID:  1,
		runners: make(map[int]runnerRecord),
		revoked: make(map[string]bool),
	}
}

// Revoke marks a runner's token as no longer accepted.
func (c *coordinator) Revoke(description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.runners {
		if r.Description == description {
			c.revoked[r.Token] = true
		}
	}
}

// Descriptions lists the currently registered descriptions.
func (c *coordinator) Descriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, r := range c.runners {
		out = append(out, r.Description)
	}
	return out
}

func (c *coordinator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/runners/all":
		if r.URL.Query().Get("tag_list") == "" {
			http.Error(w, "unscoped listing", http.StatusBadRequest)
			return
		}
		if r.Header.Get("PRIVATE-TOKEN") != readSecret {
			http.Error(w, "401 Unauthorized", http.StatusUnauthorized)
			return
		}
		tags := strings.Split(r.URL.Query().Get("tag_list"), ",")
		summaries := []map[string]interface{}{}
		for _, rec := range c.runners {
			if !hasAny(rec.TagList, tags) {
				continue
			}
			summaries = append(summaries, map[string]interface{}{
				"id": rec.ID, "description": rec.Description,
			})
		}
		json.NewEncoder(w).Encode(summaries)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/runners/"):
		id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/runners/"))
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		rec, ok := c.runners[id]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(rec)

	case r.Method == http.MethodPost && r.URL.Path == "/runners/verify":
		c.VerifyCalls++
		r.ParseForm()
		token := r.PostForm.Get("token")
		for _, rec := range c.runners {
			if rec.Token == token && !c.revoked[token] {
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		w.WriteHeader(http.StatusForbidden)

	case r.Method == http.MethodPost && r.URL.Path == "/runners":
		c.RegisterCalls++
		r.ParseForm()
		if r.PostForm.Get("token") != registrationSecret {
			http.Error(w, "403 Forbidden", http.StatusForbidden)
			return
		}
		id := c.nextID
		c.nextID++
		rec := runnerRecord{
			ID:          id,
			Token:       fmt.Sprintf("glrt-%d", id),
			Description: r.PostForm.Get("description"),
			TagList:     strings.Split(r.PostForm.Get("tag_list"), ","),
		}
		c.runners[id] = rec
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": rec.ID, "token": rec.Token})

	case r.Method == http.MethodDelete && r.URL.Path == "/runners":
		c.DeleteCalls++
		r.ParseForm()
		token := r.PostForm.Get("token")
		for id, rec := range c.runners {
			if rec.Token == token {
				delete(c.runners, id)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		http.Error(w, "unknown token", http.StatusForbidden)

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func hasAny(tagList, wanted []string) bool {
	for _, tag := range tagList {
		for _, w := range wanted {
			if tag == w {
				return true
			}
		}
	}
	return false
}

// testEnv is one host's configuration tree plus its coordinator.
type testEnv struct {
	Coordinator *coordinator
	Server      *httptest.Server
	Prefix      string
}

func newTestEnv(t *testing.T, executors ...string) *testEnv {
	t.Helper()

	coord := newCoordinator()
	server := httptest.NewServer(coord)
	t.Cleanup(server.Close)

	prefix := t.TempDir()
	require.NoError(t, os.Chmod(prefix, 0o700))

	executorsDir := filepath.Join(prefix, config.ExecutorsDir)
	require.NoError(t, os.Mkdir(executorsDir, 0o700))

	instance := fmt.Sprintf(`instance: main
endpoints:
  - url: %s
    registration_secret: %s
    read_secret: %s
`, server.URL, registrationSecret, readSecret)
	require.NoError(t, os.WriteFile(filepath.Join(prefix, config.FileName), []byte(instance), 0o600))

	env := &testEnv{Coordinator: coord, Server: server, Prefix: prefix}
	for _, name := range executors {
		env.Declare(t, name)
	}
	return env
}

// Declare adds one executor declaration.
func (e *testEnv) Declare(t *testing.T, name string) {
	t.Helper()
	decl := fmt.Sprintf("url = %q\n", e.Server.URL)
	path := filepath.Join(e.Prefix, config.ExecutorsDir, name+".toml")
	require.NoError(t, os.WriteFile(path, []byte(decl), 0o600))
}

// Undeclare removes one executor declaration.
func (e *testEnv) Undeclare(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(e.Prefix, config.ExecutorsDir, name+".toml")))
}
