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

// Package dhcp observes DHCPv4 lease traffic on the provisioning
// network and turns it into lease events: corroborating evidence that a
// host reached the network stack, alongside (never instead of) the
// mailbox ping the workflow actually waits on (spec §4.10 steps 3-4).
package dhcp

import (
	"context"
	"net"
	"sync"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/rs/zerolog"
)

// LeaseEvent is one observed DHCPREQUEST/DHCPACK exchange.
type LeaseEvent struct {
	MAC net.HardwareAddr
	IP  net.IP
}

// Service listens for DHCPv4 traffic on an interface and publishes
// LeaseEvents; it never itself allocates leases (a real DHCP server is
// external infrastructure, spec §1 Non-goals), it only observes.
type Service struct {
	iface   string
	events  chan LeaseEvent
	log     zerolog.Logger
	server  *server4.Server
	running bool
}

// NewService builds a Service watching iface for DHCP traffic.
func NewService(iface string, log zerolog.Logger) *Service {
	return &Service{
		iface:  iface,
		events: make(chan LeaseEvent, 64),
		log:    log,
	}
}

// Events returns the channel of observed lease events.
func (s *Service) Events() <-chan LeaseEvent {
	return s.events
}

// Start begins listening; it runs until ctx is cancelled or Stop is
// called. Because server4.Server only supports acting as a server, we
// register a handler that observes every request and replies with
// nothing functional — insomniacslk/dhcp gives us wire-format decoding
// for free without standing up our own packet parser.
func (s *Service) Start(ctx context.Context) error {
	handler := func(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4) {
		if m.OpCode != dhcpv4.OpcodeBootRequest {
			return
		}

		select {
		case s.events <- LeaseEvent{MAC: m.ClientHWAddr, IP: m.ClientIPAddr}:
		default:
			s.log.Warn().Msg("dhcp: lease event channel full, dropping")
		}
	}

	srv, err := server4.NewServer(s.iface, nil, handler)
	if err != nil {
		return err
	}
	s.server = srv
	s.running = true

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return srv.Serve()
}

// Stop closes the underlying listener.
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}
	s.running = false

	return s.server.Close()
}

// Observations tracks the most recently observed lease per MAC, fed by
// draining a Service's Events() channel. The workflow package uses it
// to corroborate the mailbox pre-image ack with independent evidence
// that the host actually reached the network stack (spec §4.10 steps
// 3-4: "alongside, never instead of" the mailbox ping).
type Observations struct {
	mu     sync.Mutex
	leases map[string]net.IP
}

// NewObservations builds an empty Observations table.
func NewObservations() *Observations {
	return &Observations{leases: make(map[string]net.IP)}
}

// Consume drains events until ctx is done or the channel is closed,
// recording the latest lease seen per MAC. Intended to run in its own
// goroutine alongside Service.Start.
func (o *Observations) Consume(ctx context.Context, events <-chan LeaseEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			o.mu.Lock()
			o.leases[ev.MAC.String()] = ev.IP
			o.mu.Unlock()
		}
	}
}

// Lease reports the most recently observed IP for mac, if any.
func (o *Observations) Lease(mac net.HardwareAddr) (net.IP, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ip, ok := o.leases[mac.String()]

	return ip, ok
}
