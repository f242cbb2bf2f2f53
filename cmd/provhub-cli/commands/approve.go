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
	"net/url"

	"github.com/spf13/cobra"
)

func NewApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <target>",
		Short: "Approve the current store of a target and create a deployment version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]string
			path := "/api/v1/targets/" + url.PathEscape(args[0]) + "/approve/"
			if err := postJSON(path, &result); err != nil {
				return err
			}
			fmt.Println(result["version"])
			return nil
		},
	}
}
