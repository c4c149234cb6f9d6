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

// Package netmon verifies OS reachability after a host's second boot
// (spec §4.10 step 6: "Verify OS reachability by ICMP"): it pings a set
// of addresses and, by capturing the replies off the wire, correlates
// each responding IP with the hardware address that actually answered
// — catching the case where a stale ARP/ND entry or IP reuse would
// otherwise make a ping success lie about which NIC is alive.
package netmon

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os/exec"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	pcap "github.com/packetcap/go-pcap"
)

// IPHwAddressPair is one observed (IP, hardware address) correlation
// read off an captured Ethernet frame.
type IPHwAddressPair struct {
	IP        netip.Addr
	HwAddress net.HardwareAddr
}

// getIPHwAddressPair extracts the source IP and source MAC from an
// Ethernet frame carrying either IPv4 or IPv6, which is sufficient to
// attribute an ICMP echo reply to the NIC that sent it.
func getIPHwAddressPair(packet gopacket.Packet) IPHwAddressPair {
	var pair IPHwAddressPair

	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return pair
	}
	eth, _ := ethLayer.(*layers.Ethernet)
	pair.HwAddress = eth.SrcMAC

	if ip4Layer := packet.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		ip4, _ := ip4Layer.(*layers.IPv4)
		pair.IP, _ = netip.AddrFromSlice(ip4.SrcIP.To4())
		return pair
	}

	if ip6Layer := packet.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip6, _ := ip6Layer.(*layers.IPv6)
		pair.IP, _ = netip.AddrFromSlice(ip6.SrcIP.To16())
		return pair
	}

	return pair
}

// Scan pings every address in ips and, concurrently, captures on every
// interface (the "any" pseudo-device) to correlate replies with
// hardware addresses. It
// returns one IPHwAddressPair per address that both replied to the
// ping and was observed on the wire before ctx is done.
func Scan(ctx context.Context, ips []netip.Addr) ([]IPHwAddressPair, error) {
	handle, err := pcap.OpenLive("any", 65535, true, time.Second, false)
	if err != nil {
		return nil, fmt.Errorf("netmon: open capture: %w", err)
	}
	defer handle.Close()

	want := make(map[netip.Addr]bool, len(ips))
	for _, ip := range ips {
		want[ip] = true
	}

	results := make(chan IPHwAddressPair, len(ips))
	done := make(chan struct{})

	go func() {
		defer close(done)

		src := gopacket.NewPacketSource(handle, handle.LinkType())
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-src.Packets():
				if !ok {
					return
				}

				pair := getIPHwAddressPair(packet)
				if pair.IP.IsValid() && want[pair.IP] {
					results <- pair
					delete(want, pair.IP)
				}

				if len(want) == 0 {
					return
				}
			}
		}
	}()

	for _, ip := range ips {
		go ping(ctx, ip)
	}

	var out []IPHwAddressPair

	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-done:
			for len(results) > 0 {
				out = append(out, <-results)
			}
			return out, nil
		case pair := <-results:
			out = append(out, pair)
		}
	}
}

// ping shells out to the system ping binary once; a raw-socket ICMP
// echo would need CAP_NET_RAW the runtime may not hold, while the
// setuid system binary always can.
func ping(ctx context.Context, ip netip.Addr) {
	arg := "-c"
	if ip.Is6() {
		arg = "-c" // ping6 merges into ping on most modern distros; -6 selects family there
	}

	cmd := exec.CommandContext(ctx, "ping", arg, "1", "-W", "1", ip.String())
	_ = cmd.Run()
}
