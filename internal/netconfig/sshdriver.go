// Copyright (c) 2026 labctld contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package netconfig

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"laas.dev/core/labctld/internal/model"
)

// SwitchResolver looks up a switch's management address and login by
// ID, so the SSH driver doesn't need to own inventory lookups itself.
type SwitchResolver interface {
	Switch(id string) (model.Switch, error)
}

// SSHDriver pushes a NetworkConfig to a switch's management plane over
// an interactive SSH session, the same transport the original
// implementation used against its lab switches (one connection per
// apply, password auth, sequential command execution).
type SSHDriver struct {
	resolver   SwitchResolver
	dialConfig func(sw model.Switch) *ssh.ClientConfig
	log        zerolog.Logger
}

// NewSSHDriver builds a driver resolving switches through resolver.
func NewSSHDriver(resolver SwitchResolver, log zerolog.Logger) *SSHDriver {
	return &SSHDriver{
		resolver: resolver,
		dialConfig: func(sw model.Switch) *ssh.ClientConfig {
			return &ssh.ClientConfig{
				User:            sw.SSHUser,
				Auth:            []ssh.AuthMethod{ssh.Password(sw.SSHPassword)},
				HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // lab switches rarely present stable host keys
				Timeout:         10 * time.Second,
			}
		},
		log: log,
	}
}

// Apply renders cfg into a vendor-neutral command sequence and runs it
// over a single SSH session, retrying the connection itself (not
// individual commands, which may not be idempotent to repeat blindly)
// against a switch that's mid-reboot.
func (d *SSHDriver) Apply(ctx context.Context, switchID string, cfg NetworkConfig) error {
	sw, err := d.resolver.Switch(switchID)
	if err != nil {
		return fmt.Errorf("netconfig: resolve switch %s: %w", switchID, err)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	return backoff.Retry(func() error {
		return d.applyOnce(sw, cfg)
	}, bo)
}

func (d *SSHDriver) applyOnce(sw model.Switch, cfg NetworkConfig) error {
	client, err := ssh.Dial("tcp", sw.ManagementAddress, d.dialConfig(sw))
	if err != nil {
		return fmt.Errorf("netconfig: dial %s: %w", sw.ManagementAddress, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("netconfig: session on %s: %w", sw.ManagementAddress, err)
	}
	defer session.Close()

	script := renderCommands(cfg)

	d.log.Debug().Str("switch", sw.ID).Str("host", cfg.HostID).Int("lines", len(script)).Msg("applying network config")

	if err := session.Run(strings.Join(script, "\n")); err != nil {
		return fmt.Errorf("netconfig: apply on %s: %w", sw.ManagementAddress, err)
	}

	return nil
}

// renderCommands turns a NetworkConfig into the switch's own CLI
// syntax: one bond/port block per BondGroup, then an optional
// write-memory if the caller asked for persistence.
func renderCommands(cfg NetworkConfig) []string {
	var lines []string

	for _, bond := range cfg.Bonds {
		lines = append(lines, fmt.Sprintf("interface %s", bond.Name))

		if len(bond.Vlans) == 0 {
			lines = append(lines, "  shutdown")
			continue
		}

		for _, v := range bond.Vlans {
			if v.Tagged {
				lines = append(lines, fmt.Sprintf("  switchport trunk allowed vlan add %d", v.VlanID))
			} else {
				lines = append(lines, fmt.Sprintf("  switchport access vlan %d", v.VlanID))
			}
		}

		lines = append(lines, "  no shutdown")
	}

	if cfg.Persist {
		lines = append(lines, "write memory")
	}

	return lines
}
