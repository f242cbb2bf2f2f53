// Copyright (C) 2025 the provhub authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerFlag(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		assert.Equal(t, "http://localhost:8080", serverURL())
	})

	t.Run("flag overrides the default", func(t *testing.T) {
		require.NoError(t, rootCmd.PersistentFlags().Set("server", "https://provhub.example.com"))
		defer func() {
			rootCmd.PersistentFlags().Set("server", "http://localhost:8080") // nolint: errcheck
			rootCmd.PersistentFlags().Lookup("server").Changed = false
		}()

		assert.Equal(t, "https://provhub.example.com", serverURL())
	})

	t.Run("env variable overrides the default", func(t *testing.T) {
		t.Setenv("PROVHUB_SERVER", "https://env.example.com")
		assert.Equal(t, "https://env.example.com", serverURL())
	})
}

func TestCommandConstruction(t *testing.T) {
	assert.Equal(t, "targets", NewTargetsCommand().Name())
	assert.Equal(t, "versions", NewVersionsCommand().Name())
	assert.Equal(t, "approve", NewApproveCommand().Name())
}
