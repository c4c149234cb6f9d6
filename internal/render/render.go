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

// Package render builds the per-host provisioning artifacts: cloud-init
// (meta-data, vendor-data, network-config), kickstart, and GRUB kernel
// args, parameterized with the aggregate's IPMI creds, its network
// assignment map, and the two mailbox callback URLs (spec §4.10 step 1).
package render

import (
	"fmt"

	"github.com/flosch/pongo2"

	"laas.dev/core/labctld/internal/model"
)

// HostContext is everything a per-host template needs.
type HostContext struct {
	Host            model.Host
	Instance        model.Instance
	IPMIUsername    string
	IPMIPassword    string
	PreImageURL     string
	PostImageURL    string
	Assignment      model.NetworkAssignment
}

func (c HostContext) pongoContext() pongo2.Context {
	return pongo2.Context{
		"host":          c.Host,
		"instance":      c.Instance,
		"ipmi_username": c.IPMIUsername,
		"ipmi_password": c.IPMIPassword,
		"pre_image_url": c.PreImageURL,
		"post_image_url": c.PostImageURL,
		"assignment":    c.Assignment,
	}
}

const metaDataTemplate = `instance-id: {{ instance.ID }}
local-hostname: {{ instance.Template.Hostname }}
`

const vendorDataTemplate = `#cloud-config
phone_home:
  url: {{ pre_image_url }}
  post: [ instance_id ]
runcmd:
  - [ curl, -X, POST, "{{ post_image_url }}" ]
`

const userDataTemplate = `#cloud-config
{{ instance.Template.CloudInitUser }}
`

const networkConfigTemplate = `network:
  version: 2
  ethernets:
{% for net, vlan in assignment %}    {{ net }}:
      dhcp4: false
      vlan-id: {{ vlan }}
{% endfor %}`

const kickstartTemplate = `#version=RHEL9
text
reboot
url --url="http://boot.example.test/install/{{ instance.Template.ImageID }}"
%post
curl -X POST "{{ post_image_url }}"
%end
`

// CloudInit renders the cloud-init trio: meta-data, vendor-data, and
// network-config.
func CloudInit(ctx HostContext) (metaData, vendorData, networkConfig string, err error) {
	metaData, err = execute(metaDataTemplate, ctx)
	if err != nil {
		return "", "", "", fmt.Errorf("render: meta-data: %w", err)
	}

	vendorData, err = execute(vendorDataTemplate, ctx)
	if err != nil {
		return "", "", "", fmt.Errorf("render: vendor-data: %w", err)
	}

	networkConfig, err = execute(networkConfigTemplate, ctx)
	if err != nil {
		return "", "", "", fmt.Errorf("render: network-config: %w", err)
	}

	return metaData, vendorData, networkConfig, nil
}

// UserData renders the per-host cloud-init user-data payload.
func UserData(ctx HostContext) (string, error) {
	out, err := execute(userDataTemplate, ctx)
	if err != nil {
		return "", fmt.Errorf("render: user-data: %w", err)
	}

	return out, nil
}

// Kickstart renders a RHEL/CentOS-family kickstart file for hosts whose
// image requests it (spec §4.10 step 1: "or kickstart + GRUB").
func Kickstart(ctx HostContext) (string, error) {
	out, err := execute(kickstartTemplate, ctx)
	if err != nil {
		return "", fmt.Errorf("render: kickstart: %w", err)
	}

	return out, nil
}

// GRUBArgs renders the kernel argument line appended to a host's GRUB
// netboot fragment.
func GRUBArgs(ctx HostContext) (string, error) {
	tmpl := "ip=dhcp ks={{ post_image_url }} inst.ks.sendmac"
	return execute(tmpl, ctx)
}

func execute(tmpl string, ctx HostContext) (string, error) {
	t, err := pongo2.FromString(tmpl)
	if err != nil {
		return "", err
	}

	return t.Execute(ctx.pongoContext())
}
