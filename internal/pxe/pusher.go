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
	"io"
	"path"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Pusher writes GRUB fragments and kickstart/cloud-init payloads to the
// PXE file server over SFTP+SSH (spec §6 "PXE file server").
type Pusher struct {
	client *ssh.Client
	root   string
}

// DialPusher opens an SSH connection to addr and returns a Pusher
// rooted at root on the remote filesystem.
func DialPusher(addr string, config *ssh.ClientConfig, root string) (*Pusher, error) {
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("pxe: ssh dial %s: %w", addr, err)
	}

	return &Pusher{client: client, root: root}, nil
}

// Close tears down the SSH connection.
func (p *Pusher) Close() error {
	return p.client.Close()
}

// WriteGRUBFragment writes the per-host GRUB netboot fragment, keyed
// by MAC, atomically: write to a temp name
// in the same directory, then rename over the final path so a
// concurrently-booting host never observes a half-written file.
func (p *Pusher) WriteGRUBFragment(mac, contents string) error {
	name := macToGrubName(mac)
	return p.writeAtomic(name, contents)
}

// WriteKickstart writes a kickstart file for hostname.
func (p *Pusher) WriteKickstart(hostname, contents string) error {
	return p.writeAtomic(path.Join("ks", hostname+".cfg"), contents)
}

// WriteCloudInit writes one cloud-init file (meta-data, user-data,
// vendor-data, or network-config) under the host's instance directory.
func (p *Pusher) WriteCloudInit(instanceID, filename, contents string) error {
	return p.writeAtomic(path.Join("cloud-init", instanceID, filename), contents)
}

func (p *Pusher) writeAtomic(relPath, contents string) error {
	sc, err := sftp.NewClient(p.client)
	if err != nil {
		return fmt.Errorf("pxe: open sftp session: %w", err)
	}
	defer sc.Close()

	full := path.Join(p.root, relPath)
	tmp := full + ".tmp-upload"

	if err := sc.MkdirAll(path.Dir(full)); err != nil {
		return fmt.Errorf("pxe: mkdir %s: %w", path.Dir(full), err)
	}

	f, err := sc.Create(tmp)
	if err != nil {
		return fmt.Errorf("pxe: create %s: %w", tmp, err)
	}

	if _, err := io.Copy(f, strings.NewReader(contents)); err != nil {
		f.Close()
		return fmt.Errorf("pxe: write %s: %w", tmp, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("pxe: close %s: %w", tmp, err)
	}

	if err := sc.Rename(tmp, full); err != nil {
		return fmt.Errorf("pxe: rename %s -> %s: %w", tmp, full, err)
	}

	return nil
}

func macToGrubName(mac string) string {
	// Cobbler/GRUB convention: lowercase, dash-delimited MAC, prefixed
	// with "01-".
	return "01-" + strings.ToLower(strings.ReplaceAll(mac, ":", "-"))
}

// QuoteKernelArgs joins args into a single shell-safe kernel command
// line for embedding in a GRUB fragment.
func QuoteKernelArgs(args []string) string {
	return shellquote.Join(args...)
}
