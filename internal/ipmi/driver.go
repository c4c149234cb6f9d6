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

// Package ipmi is the out-of-band power and account driver (spec
// §4.9): power on/off/reset/status over IPMI v2 LAN, and the
// collaborator-account lifecycle layered on top of it.
package ipmi

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"laas.dev/core/labctld/internal/model"
)

// PowerState mirrors the BMC's chassis power status, including the
// "weird"/ambiguous third reading (spec §9 open question: the original
// leaves this implicit in one code path; we make it an explicit,
// always-checked value rather than silently coercing it to Off).
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerOn
	PowerOff
)

func (p PowerState) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// Driver executes ipmitool commands against a host's BMC. Every
// command is rate-limited process-wide (a shared BMC fleet is easy to
// overwhelm with retries) and idempotent at the BMC itself, so safe to
// re-drive (spec §5 "Cancellation").
type Driver struct {
	limiter *rate.Limiter
	log     zerolog.Logger
	runCmd  func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

// NewDriver builds a Driver allowing at most ratePerSecond ipmitool
// invocations per second, bursting up to burst.
func NewDriver(ratePerSecond float64, burst int, log zerolog.Logger) *Driver {
	return &Driver{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		log:     log,
		runCmd:  execCommand,
	}
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.Bytes(), stderr.Bytes(), err
}

func (d *Driver) ipmitool(ctx context.Context, host model.Host, args ...string) (string, string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", "", err
	}

	full := append([]string{
		"-I", "lanplus",
		"-C", "3",
		"-H", host.IPMIFQDN,
		"-U", host.IPMIUser,
		"-P", host.IPMIPass,
	}, args...)

	stdout, stderr, err := d.runCmd(ctx, "ipmitool", full...)

	return string(stdout), string(stderr), err
}

// SetPower drives the BMC's chassis power command. The call itself is
// a single idempotent command; polling until the desired state is
// reached is the caller's responsibility (spec §4.10 DeployHost step 3,
// via a WaitReachable-style follow-up task).
func (d *Driver) SetPower(ctx context.Context, host model.Host, want PowerState) error {
	var cmd string
	switch want {
	case PowerOn:
		cmd = "on"
	case PowerOff:
		cmd = "off"
	default:
		return fmt.Errorf("ipmi: cannot request power state %q directly", want)
	}

	_, stderr, err := d.ipmitool(ctx, host, "chassis", "power", cmd)
	if err != nil {
		return fmt.Errorf("ipmi: chassis power %s: %w (stderr: %s)", cmd, err, stderr)
	}

	if strings.Contains(stderr, "Unable to establish IPMI") {
		return fmt.Errorf("ipmi: could not reach BMC at %s", host.IPMIFQDN)
	}

	return nil
}

// Reset issues chassis power reset.
func (d *Driver) Reset(ctx context.Context, host model.Host) error {
	_, stderr, err := d.ipmitool(ctx, host, "chassis", "power", "reset")
	if err != nil {
		return fmt.Errorf("ipmi: chassis power reset: %w (stderr: %s)", err, stderr)
	}

	return nil
}

// Status queries the current chassis power status, retried a bounded
// number of times with backoff to absorb transient BMC unavailability.
func (d *Driver) Status(ctx context.Context, host model.Host) (PowerState, error) {
	var result PowerState

	op := func() error {
		stdout, _, err := d.ipmitool(ctx, host, "chassis", "power", "status")
		if err != nil {
			return err
		}

		result = parsePowerStatus(stdout)

		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return PowerUnknown, fmt.Errorf("ipmi: chassis power status: %w", err)
	}

	return result, nil
}

func parsePowerStatus(stdout string) PowerState {
	s := strings.ToLower(stdout)
	switch {
	case strings.Contains(s, "is on"):
		return PowerOn
	case strings.Contains(s, "is off"):
		return PowerOff
	default:
		return PowerUnknown
	}
}

// setAccount is the shared "user set password/name" primitive both
// CreateIPMIAccount and DeleteIPMIAccount use.
func (d *Driver) setAccount(ctx context.Context, host model.Host, userid, field, value string) error {
	_, stderr, err := d.ipmitool(ctx, host, "user", "set", field, userid, value)
	if err != nil {
		return fmt.Errorf("ipmi: user set %s: %w (stderr: %s)", field, err, stderr)
	}

	return nil
}

// pingableInterval is how often CreateIPMIAccount polls the BMC while
// waiting for it to come up before setting the account.
const pingableInterval = 2 * time.Second

// CreateIPMIAccount waits for the BMC to be pingable, then sets the
// password and username on the chosen user slot (spec §4.9).
func (d *Driver) CreateIPMIAccount(ctx context.Context, host model.Host, userid, username, password string) error {
	if err := d.WaitPingable(ctx, host, pingableInterval); err != nil {
		return err
	}

	if err := d.setAccount(ctx, host, userid, "password", password); err != nil {
		return err
	}

	return d.setAccount(ctx, host, userid, "name", username)
}

// DeleteIPMIAccount rotates the account's password to a random value,
// disabling it without removing the slot (spec §4.9).
func (d *Driver) DeleteIPMIAccount(ctx context.Context, host model.Host, userid string) error {
	return d.setAccount(ctx, host, userid, "password", GeneratePassword(15))
}

// WaitPingable blocks until host's BMC responds to a power-status
// query or ctx expires, polling at the given interval.
func (d *Driver) WaitPingable(ctx context.Context, host model.Host, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := d.Status(ctx, host); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("ipmi: BMC at %s never became reachable: %w", host.IPMIFQDN, ctx.Err())
		case <-ticker.C:
		}
	}
}
