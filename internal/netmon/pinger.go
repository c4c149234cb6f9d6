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

package netmon

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
)

// Pinger adapts Scan to the workflow package's single-address,
// synchronous-looking Ping contract (spec §4.10 step 6).
type Pinger struct {
	Timeout time.Duration
	Log     zerolog.Logger
}

func (p Pinger) Ping(addr net.IP) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ipAddr, ok := netip.AddrFromSlice(addr)
	if !ok {
		return fmt.Errorf("netmon: invalid address %v", addr)
	}
	ipAddr = ipAddr.Unmap()

	pairs, err := Scan(ctx, []netip.Addr{ipAddr})
	if err != nil {
		return fmt.Errorf("netmon: ping %s: %w", addr, err)
	}

	if len(pairs) == 0 {
		return fmt.Errorf("netmon: %s did not respond within %s", addr, timeout)
	}

	return nil
}
