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

// Package inventory resolves the physical entities the workflow and
// network driver need but that the allocator's own schema only refers
// to by opaque ID (spec §1: inventory is an external collaborator
// beyond the entity set the allocator itself requires): hosts, their
// NICs, the switches those NICs land on, and the dashboard-configured
// production bond layout.
package inventory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net"

	"laas.dev/core/labctld/internal/model"
	"laas.dev/core/labctld/internal/netconfig"
)

// Inventory answers the workflow and SSHDriver's lookups against the
// store's hosts/switches/ports tables.
type Inventory struct {
	db *sql.DB
}

// New wraps db for inventory lookups. It shares the same *sql.DB as
// the store and allocator rather than owning a separate connection,
// consistent with the single-writer contract spec §5.4 relies on.
func New(db *sql.DB) *Inventory {
	return &Inventory{db: db}
}

func (i *Inventory) Host(id string) (model.Host, error) {
	var h model.Host
	err := i.db.QueryRow(
		`SELECT id, name, flavor_id, lab_id, ipmi_fqdn, ipmi_user, ipmi_pass FROM hosts WHERE id = ?`, id,
	).Scan(&h.ID, &h.Name, &h.FlavorID, &h.LabID, &h.IPMIFQDN, &h.IPMIUser, &h.IPMIPass)
	if err != nil {
		return model.Host{}, fmt.Errorf("inventory: host %s: %w", id, err)
	}

	ports, err := i.hostPorts(id)
	if err != nil {
		return model.Host{}, err
	}
	h.Ports = ports

	return h, nil
}

func (i *Inventory) hostPorts(hostID string) ([]model.HostPort, error) {
	rows, err := i.db.Query(
		`SELECT id, host_id, name, mac, bus_addr, switch_port_id FROM host_ports WHERE host_id = ? ORDER BY name`, hostID,
	)
	if err != nil {
		return nil, fmt.Errorf("inventory: ports for host %s: %w", hostID, err)
	}
	defer rows.Close()

	var out []model.HostPort
	for rows.Next() {
		var p model.HostPort
		if err := rows.Scan(&p.ID, &p.HostID, &p.Name, &p.MAC, &p.BusAddr, &p.SwitchPortID); err != nil {
			return nil, fmt.Errorf("inventory: scan host port: %w", err)
		}
		out = append(out, p)
	}

	return out, rows.Err()
}

func (i *Inventory) SwitchForPort(hostPortID string) (model.Switch, error) {
	var switchPortID string
	if err := i.db.QueryRow(`SELECT switch_port_id FROM host_ports WHERE id = ?`, hostPortID).Scan(&switchPortID); err != nil {
		return model.Switch{}, fmt.Errorf("inventory: host port %s: %w", hostPortID, err)
	}

	var switchID string
	if err := i.db.QueryRow(`SELECT switch_id FROM switch_ports WHERE id = ?`, switchPortID).Scan(&switchID); err != nil {
		return model.Switch{}, fmt.Errorf("inventory: switch port %s: %w", switchPortID, err)
	}

	return i.Switch(switchID)
}

// Switch implements netconfig.SwitchResolver.
func (i *Inventory) Switch(id string) (model.Switch, error) {
	var sw model.Switch
	err := i.db.QueryRow(
		`SELECT id, name, management_address, ssh_user, ssh_password FROM switches WHERE id = ?`, id,
	).Scan(&sw.ID, &sw.Name, &sw.ManagementAddress, &sw.SSHUser, &sw.SSHPassword)
	if err != nil {
		return model.Switch{}, fmt.Errorf("inventory: switch %s: %w", id, err)
	}

	return sw, nil
}

func (i *Inventory) ManagementVlan(labID string) int {
	var vid int
	// A lab's management VLAN is its one non-public vlan row; absence
	// (err != nil) is reported as 0, which callers treat as "no
	// management VLAN configured" rather than a fatal lookup error,
	// since not every lab requires an isolated management segment.
	_ = i.db.QueryRow(`SELECT vlan_id FROM vlans WHERE lab_id = ? AND public = 0 LIMIT 1`, labID).Scan(&vid)
	return vid
}

func (i *Inventory) BMCVlan(hostID string) int {
	var vid int
	_ = i.db.QueryRow(`SELECT bmc_vlan_id FROM hosts WHERE id = ?`, hostID).Scan(&vid)
	return vid
}

func (i *Inventory) ProductionBonds(hostID string) []netconfig.ProductionBondRequest {
	rows, err := i.db.Query(`SELECT name, ports, networks FROM production_bonds WHERE host_id = ? ORDER BY name`, hostID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []netconfig.ProductionBondRequest
	for rows.Next() {
		var req netconfig.ProductionBondRequest
		var portsJSON, networksJSON string
		if err := rows.Scan(&req.Name, &portsJSON, &networksJSON); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(portsJSON), &req.Ports)
		_ = json.Unmarshal([]byte(networksJSON), &req.Networks)
		out = append(out, req)
	}

	return out
}

func (i *Inventory) ManagementAddress(hostID string) (net.IP, error) {
	var addr string
	if err := i.db.QueryRow(`SELECT management_address FROM hosts WHERE id = ?`, hostID).Scan(&addr); err != nil {
		return nil, fmt.Errorf("inventory: management address for host %s: %w", hostID, err)
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("inventory: host %s has no management address recorded", hostID)
	}

	return ip, nil
}
