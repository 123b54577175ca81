// Package identity resolves the facts that scope every runner
// registration to this host: hostname, cluster family, platform and
// architecture. The identity is built once at process start and passed
// to every component that needs it.
package identity

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Identity describes the host a reconciliation run operates on.
type Identity struct {
	// Instance is the logical name of this runner deployment, taken
	// from the instance config. Defaults to the hostname.
	Instance string

	// Hostname is the hostname as reported by the kernel.
	Hostname string

	// ClusterFamily is the hostname with trailing digits stripped,
	// grouping sibling hosts (node01, node02 -> node).
	ClusterFamily string

	// OS is the operating system family ("linux", "darwin").
	OS string

	// Platform is the distribution or platform name ("debian", "rhel").
	Platform string

	// Arch is the kernel architecture ("x86_64", "aarch64").
	Arch string
}

// Resolve gathers host facts. An empty instance name defaults to the
// hostname.
func Resolve(ctx context.Context, instance string) (*Identity, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read host info: %w", err)
	}

	hostname := info.Hostname
	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hostname: %w", err)
		}
	}
	if hostname == "" {
		return nil, fmt.Errorf("host reports an empty hostname")
	}

	if instance == "" {
		instance = hostname
	}

	return &Identity{
		Instance:      instance,
		Hostname:      hostname,
		ClusterFamily: ClusterFamily(hostname),
		OS:            info.OS,
		Platform:      info.Platform,
		Arch:          info.KernelArch,
	}, nil
}

// ClusterFamily strips trailing digits from a hostname: node01 -> node.
// A hostname consisting only of digits is returned unchanged.
func ClusterFamily(hostname string) string {
	family := strings.TrimRight(hostname, "0123456789")
	if family == "" {
		return hostname
	}
	return family
}

// ScopeTags returns the tag set used to filter remote listings so a
// run never touches another host's registrations.
func (i *Identity) ScopeTags() []string {
	return []string{i.Hostname}
}
