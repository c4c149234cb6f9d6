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

// Package workflow composes the task runtime's primitives into the
// booking and cleanup pipelines (spec §4.10, §4.11): DeployBooking
// fans out DeployHost children, each chaining allocation verification,
// network reconfiguration, PXE push, power control, mailbox-gated
// install progress, and reachability confirmation; CleanupAggregate is
// its best-effort inverse.
package workflow

import (
	"net"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"laas.dev/core/labctld/internal/allocator"
	"laas.dev/core/labctld/internal/ipmi"
	"laas.dev/core/labctld/internal/mailbox"
	"laas.dev/core/labctld/internal/model"
	"laas.dev/core/labctld/internal/netconfig"
	"laas.dev/core/labctld/internal/notify"
	"laas.dev/core/labctld/internal/pxe"
	"laas.dev/core/labctld/internal/render"
	"laas.dev/core/labctld/internal/store"
	"laas.dev/core/labctld/internal/userdir"
)

// Inventory resolves inventory entities the workflow needs but that
// live outside this core's owned schema (spec §1: inventory is an
// external collaborator beyond the entity set the allocator itself
// requires).
type Inventory interface {
	Host(id string) (model.Host, error)
	SwitchForPort(hostPortID string) (model.Switch, error)
	ManagementVlan(labID string) int
	BMCVlan(hostID string) int
	ProductionBonds(hostID string) []netconfig.ProductionBondRequest

	// ManagementAddress resolves the host's OS-facing IP on the
	// management VLAN, used for the post-install reachability check.
	ManagementAddress(hostID string) (net.IP, error)
}

// Pinger confirms OS reachability over ICMP (spec §4.10 step 6).
type Pinger interface {
	Ping(addr net.IP) error
}

// LeaseObserver reports the most recently observed DHCP lease for a
// MAC, corroborating the pre-image mailbox ack (spec §4.10 steps 3-4).
type LeaseObserver interface {
	Lease(mac net.HardwareAddr) (net.IP, bool)
}

// Deps is every external collaborator a workflow task body needs,
// injected once at startup and captured by the registry's Deserialize
// closures (spec §9: "model as explicit services created at startup
// and passed by reference").
type Deps struct {
	Store     *store.Store
	Allocator *allocator.Allocator
	IPMI      *ipmi.Driver
	Switches  *netconfig.SwitchLocks
	Driver    netconfig.Driver
	Mailbox   *mailbox.Mailbox
	Pusher    *pxe.Pusher
	Cobbler   *pxe.CobblerClient
	Notifier  notify.Notifier
	UserDir   userdir.Directory
	Inventory Inventory
	Pinger    Pinger

	// Leases corroborates the pre-image mailbox ack with an observed
	// DHCP lease. Nil is valid (no DHCP observer configured); callers
	// must treat a nil Leases as "no corroboration available", not an
	// error.
	Leases LeaseObserver

	// Tracer wraps DeployBooking/DeployHost with spans (spec §3
	// "Tracing"). A nil Tracer is replaced with a no-op at Deps
	// construction time by cmd/labctld, so task bodies can call it
	// unconditionally.
	Tracer trace.Tracer

	Log zerolog.Logger
}

// tracer returns Tracer, or a no-op tracer if it was never set (tests,
// and any caller that doesn't care about spans).
func (d *Deps) tracer() trace.Tracer {
	if d.Tracer != nil {
		return d.Tracer
	}
	return noop.NewTracerProvider().Tracer("noop")
}
