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

// Package pxe pushes per-host install profiles to the boot server
// (spec §4.10 step 2, §6 "Boot server (cobbler)" and "PXE file
// server"): a Cobbler XML-RPC client for profile/netboot state, and an
// SFTP pusher for GRUB fragments and kickstart/cloud-init payloads.
package pxe

import (
	"context"
	"fmt"
	"net/rpc"

	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
)

// CobblerClient talks to the Cobbler XML-RPC API used to stage a
// host's netboot profile.
type CobblerClient struct {
	dial func() (*rpc.Client, error)
	attempts uint
}

// NewCobblerClient builds a client dialing addr lazily on each call, so
// a transient Cobbler restart doesn't wedge the client permanently.
func NewCobblerClient(dial func() (*rpc.Client, error)) *CobblerClient {
	return &CobblerClient{dial: dial, attempts: 5}
}

func (c *CobblerClient) call(ctx context.Context, method string, args, reply any) error {
	return retry.Retry(func(attempt uint) error {
		client, err := c.dial()
		if err != nil {
			return fmt.Errorf("pxe: dial cobbler: %w", err)
		}
		defer client.Close()

		return client.Call(method, args, reply)
	}, strategy.Limit(c.attempts), strategy.Backoff(backoff.Linear(100*time.Millisecond)))
}

// ProfileExists reports whether name is a known Cobbler profile.
func (c *CobblerClient) ProfileExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := c.call(ctx, "profile_exists", name, &exists); err != nil {
		return false, err
	}
	return exists, nil
}

// SetSystemProfile assigns systemName to profile in Cobbler.
func (c *CobblerClient) SetSystemProfile(ctx context.Context, systemName, profile string) error {
	var reply bool
	return c.call(ctx, "set_system_profile", [2]string{systemName, profile}, &reply)
}

// SetSystemArgs sets the kernel argument line for systemName.
func (c *CobblerClient) SetSystemArgs(ctx context.Context, systemName, args string) error {
	var reply bool
	return c.call(ctx, "set_system_args", [2]string{systemName, args}, &reply)
}

// SetNetboot enables or disables PXE netboot for systemName.
func (c *CobblerClient) SetNetboot(ctx context.Context, systemName string, enabled bool) error {
	var reply bool
	return c.call(ctx, "set_netboot", struct {
		System  string
		Enabled bool
	}{systemName, enabled}, &reply)
}
