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

// Package model holds the plain data types shared by the allocator,
// network config, and workflow packages: inventory (spec §3's Host /
// HostPort / Vlan / Switch / SwitchPort / Flavor / Image / Lab), and
// the booking-domain entities (ResourceHandle, Allocation, Aggregate,
// Instance, NetworkAssignment, ProvisionLogEvent).
package model

import "time"

// ResourceKind distinguishes what a ResourceHandle tracks.
type ResourceKind string

const (
	ResourceHost ResourceKind = "host"
	ResourceVlan ResourceKind = "vlan"
)

// AllocationReason is why a resource was taken out of the free pool.
type AllocationReason string

const (
	ReasonForBooking    AllocationReason = "for-booking"
	ReasonForMaintenance AllocationReason = "for-maintenance"
	ReasonForRetirement  AllocationReason = "for-retirement"
)

// AggregateState is the booking lifecycle, per spec §3: New -> Active
// (on successful deploy) -> Done (on cleanup). Done is terminal.
type AggregateState string

const (
	AggregateNew    AggregateState = "new"
	AggregateActive AggregateState = "active"
	AggregateDone   AggregateState = "done"
)

// LogSentiment classifies a ProvisionLogEvent.
type LogSentiment string

const (
	SentimentSucceeded  LogSentiment = "succeeded"
	SentimentInProgress LogSentiment = "in-progress"
	SentimentDegraded   LogSentiment = "degraded"
	SentimentFailed     LogSentiment = "failed"
	SentimentUnknown    LogSentiment = "unknown"
)

// Lab is a physical site/pod boundary; hosts, vlans, and aggregates
// each belong to exactly one lab.
type Lab struct {
	ID   string
	Name string
}

// Flavor names one class of physical host (CPU/RAM/disk/NIC profile).
type Flavor struct {
	ID   string
	Name string
}

// Image names one installable OS payload (kickstart or cloud-init
// flavor, kernel/initrd references).
type Image struct {
	ID            string
	Name          string
	UsesKickstart bool
}

// Vlan is one VLAN pool member available for allocation.
type Vlan struct {
	ID       string
	VlanID   int
	LabID    string
	Public   bool
}

// Switch is one network switch identity; SwitchPorts belong to it.
type Switch struct {
	ID   string
	Name string

	// ManagementAddress and SSHUser/SSHPassword reach the switch's own
	// management plane (spec §4.8: "reconfiguration is pushed to the
	// switch over its management interface"), distinct from any VLAN
	// this core allocates for host traffic.
	ManagementAddress string
	SSHUser            string
	SSHPassword        string
}

// SwitchPort is one physical port on a Switch.
type SwitchPort struct {
	ID       string
	SwitchID string
	Name     string
}

// HostPort is one NIC on a Host, wired to a SwitchPort.
type HostPort struct {
	ID                 string
	HostID             string
	Name               string
	MAC                string
	BusAddr            string
	SwitchPortID       string
	BMCVlanID          string
	ManagementVlanID   string
}

// Host is one physical machine in inventory.
type Host struct {
	ID       string
	Name     string
	FlavorID string
	LabID    string

	IPMIFQDN string
	IPMIUser string
	IPMIPass string

	Ports []HostPort
}

// ResourceHandle is the allocator's unit of ownership over a physical
// resource (spec §3 "Resource handle"): created at inventory import,
// persists indefinitely, and is the join point between inventory and
// allocation history.
type ResourceHandle struct {
	ID       string
	Kind     ResourceKind
	RefName  string // Host.ID or Vlan.ID
	LabID    string
}

// Allocation is one reservation of a ResourceHandle (spec §3
// "Allocation"). Invariant: for any handle, at most one row with
// ClosedAt == nil exists at a time.
type Allocation struct {
	ID          string
	HandleID    string
	AggregateID string
	Reason      AllocationReason
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ReasonEnded string
}

// Open reports whether this allocation has not yet been closed.
func (a *Allocation) Open() bool { return a.ClosedAt == nil }

// HostTemplate is the per-instance request inside a booking template:
// desired flavor, image, hostname, cloud-init payload, and the networks
// it attaches to. It carries no bond groups: the production bonds for a
// host come from the workflow Inventory's ProductionBonds.
type HostTemplate struct {
	Name          string
	FlavorID      string
	ImageID       string
	Hostname      string
	CloudInitUser string // opaque user-data payload, rendered verbatim into templates
	Networks      []string
}

// BookingTemplate is the full requested topology for an Aggregate.
type BookingTemplate struct {
	Hosts    []HostTemplate
	Networks []string // abstract network ids requiring a Vlan assignment
}

// NetworkAssignment is the per-aggregate abstract-network -> concrete
// VLAN mapping (spec §3 "Network assignment map"): filled at allocation
// time, immutable for the aggregate's lifetime.
type NetworkAssignment map[string]string // network id -> vlan id

// AggregateConfig holds per-aggregate generated secrets, notably the
// IPMI account issued to collaborators for the duration of the
// booking.
type AggregateConfig struct {
	IPMIUsername string
	IPMIPassword string
}

// Aggregate is one booking instance (spec §3 "Aggregate").
type Aggregate struct {
	ID        string
	LabID     string
	Owner     string
	Collaborators []string
	State     AggregateState
	Template  BookingTemplate
	Config    AggregateConfig
	Networks  NetworkAssignment
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Instance is one host slot inside an Aggregate (spec §3 "Instance").
type Instance struct {
	ID           string
	AggregateID  string
	Template     HostTemplate
	LinkedHostID string // empty until allocate_host succeeds
	State        string
}

// ProvisionLogEvent is one append-only journal entry for an Instance
// (spec §3 "Provision log event").
type ProvisionLogEvent struct {
	InstanceID string
	Sentiment  LogSentiment
	Headline   string
	Detail     string
	OccurredAt time.Time
}
