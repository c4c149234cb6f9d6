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

package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestLoad_OverridesOnlyWhatTheFileSets(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/labctld.yaml", []byte(`
listen_addr: "0.0.0.0:9443"
mailbox:
  public_base_url: "https://mailbox.example.test"
`), 0o644))

	cfg, err := Load(fs, "/etc/labctld.yaml")
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9443", cfg.ListenAddr)
	require.Equal(t, "https://mailbox.example.test", cfg.Mailbox.PublicBaseURL)
	// Untouched fields keep their Defaults() value.
	require.Equal(t, 8, cfg.Scheduler.Workers)
	require.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoad_RejectsMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "/nowhere.yaml")
	require.Error(t, err)
}

func TestValidate_RequiresClusterForDqlite(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "dqlite"
	cfg.Mailbox.PublicBaseURL = "https://mailbox.example.test"

	require.Error(t, cfg.Validate())

	cfg.Store.Cluster = []string{"10.0.0.1:9000"}
	require.NoError(t, cfg.Validate())
}

func TestValidate_RequiresMailboxPublicBaseURL(t *testing.T) {
	cfg := Defaults()
	require.Error(t, cfg.Validate())
}
