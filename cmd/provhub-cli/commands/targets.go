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
	"fmt"

	"github.com/provhub-dev/provhub/services"
	"github.com/spf13/cobra"
)

func NewTargetsCommand() *cobra.Command {
	targetsCmd := cobra.Command{
		Use:   "targets",
		Short: "Inspect the gateway fleet",
	}

	targetsCmd.AddCommand(newTargetsListCommand())
	return &targetsCmd
}

func newTargetsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all known targets and their states",
		RunE: func(cmd *cobra.Command, args []string) error {
			var targets []services.StatefulGateway
			if err := getJSON("/api/v1/targets/", &targets); err != nil {
				return err
			}
			for _, t := range targets {
				fmt.Printf("%s\tregistration=%s\tstore=%s\tprovisioning=%s\tlatest=%s\n",
					t.ID, t.RegistrationState, t.StoreState, t.ProvisioningState, t.LatestVersion)
			}
			return nil
		},
	}
}
