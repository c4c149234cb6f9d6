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

// Package netconfig is the abstract bond/vlan/port model the workflow
// builds per host (spec §4.8), and the per-switch serialization that
// guarantees two concurrent applies against the same switch never
// interleave their command sequences (spec §8 property 9).
package netconfig

import (
	"context"
	"fmt"

	"laas.dev/core/labctld/internal/model"
)

// VlanConnection is one VLAN membership on a bond group.
type VlanConnection struct {
	VlanID int
	Tagged bool
}

// BondGroup is a set of host ports bonded together, carrying a set of
// VLAN connections. An empty Vlans set means administratively down.
type BondGroup struct {
	Name  string
	Ports []string // HostPort ids
	Vlans []VlanConnection
}

// NetworkConfig is the full per-host configuration the workflow hands
// to a switch driver.
type NetworkConfig struct {
	HostID  string
	Bonds   []BondGroup
	Persist bool // write to switch non-volatile storage
}

// Empty builds the pre-wipe isolation config: every port of host
// untagged on the management VLAN only.
func Empty(host model.Host, managementVlan int) NetworkConfig {
	var ports []string
	for _, p := range host.Ports {
		ports = append(ports, p.ID)
	}

	return NetworkConfig{
		HostID: host.ID,
		Bonds: []BondGroup{{
			Name:  "empty",
			Ports: ports,
			Vlans: []VlanConnection{{VlanID: managementVlan, Tagged: false}},
		}},
	}
}

// Management builds the per-port BMC (tagged) + management (untagged)
// config from inventory, used while the install is in flight.
func Management(host model.Host, bmcVlan, managementVlan int) NetworkConfig {
	var bonds []BondGroup

	for _, p := range host.Ports {
		conns := []VlanConnection{{VlanID: managementVlan, Tagged: false}}
		if bmcVlan != 0 {
			conns = append(conns, VlanConnection{VlanID: bmcVlan, Tagged: true})
		}

		bonds = append(bonds, BondGroup{
			Name:  "mgmt-" + p.ID,
			Ports: []string{p.ID},
			Vlans: conns,
		})
	}

	return NetworkConfig{HostID: host.ID, Bonds: bonds}
}

// ProductionBondRequest is one dashboard-configured bond group request:
// the host ports to bundle and the abstract networks it should carry.
type ProductionBondRequest struct {
	Name     string
	Ports    []string
	Networks []string
}

// Production builds the post-install config: one bond group per
// dashboard-configured connection with allowed VLANs from the
// aggregate's network assignment map; ports not named in any bond get
// BMC-only (or nothing, if the host has no BMC VLAN).
func Production(host model.Host, bonds []ProductionBondRequest, assignment model.NetworkAssignment, bmcVlan int) (NetworkConfig, error) {
	used := make(map[string]bool)
	var out []BondGroup

	for _, b := range bonds {
		var conns []VlanConnection
		for _, net := range b.Networks {
			vlanRef, ok := assignment[net]
			if !ok {
				return NetworkConfig{}, fmt.Errorf("netconfig: no vlan assignment for network %q", net)
			}

			vid, err := parseVlanRef(vlanRef)
			if err != nil {
				return NetworkConfig{}, err
			}

			conns = append(conns, VlanConnection{VlanID: vid, Tagged: len(b.Networks) > 1})
		}

		out = append(out, BondGroup{Name: b.Name, Ports: b.Ports, Vlans: conns})
		for _, p := range b.Ports {
			used[p] = true
		}
	}

	for _, p := range host.Ports {
		if used[p.ID] {
			continue
		}

		var conns []VlanConnection
		if bmcVlan != 0 {
			conns = []VlanConnection{{VlanID: bmcVlan, Tagged: true}}
		}

		out = append(out, BondGroup{Name: "unused-" + p.ID, Ports: []string{p.ID}, Vlans: conns})
	}

	return NetworkConfig{HostID: host.ID, Bonds: out, Persist: true}, nil
}

func parseVlanRef(ref string) (int, error) {
	var vid int
	if _, err := fmt.Sscanf(ref, "%d", &vid); err != nil {
		return 0, fmt.Errorf("netconfig: malformed vlan reference %q: %w", ref, err)
	}
	return vid, nil
}

// Driver is the abstract per-vendor adapter contract: only apply is
// part of this core (spec §6 "Switch").
type Driver interface {
	Apply(ctx context.Context, switchID string, cfg NetworkConfig) error
}
