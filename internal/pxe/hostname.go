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

package pxe

import (
	"fmt"

	"github.com/miekg/dns"
)

// ValidateHostname rejects hostnames that would not survive round-
// tripping through DNS and Cobbler's system-name field, before they
// get baked into a GRUB fragment path or kickstart %post block.
func ValidateHostname(hostname string) error {
	for _, r := range hostname {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '.') {
			return fmt.Errorf("pxe: %q is not a valid DNS hostname", hostname)
		}
	}

	fqdn := dns.Fqdn(hostname)

	if _, ok := dns.IsDomainName(fqdn); !ok {
		return fmt.Errorf("pxe: %q is not a valid DNS hostname", hostname)
	}

	return nil
}
