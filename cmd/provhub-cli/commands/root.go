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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "provhub-cli",
	Short: "Management cli",
	Long:  `The provhub cli can be used to interact with a running provhub instance.`,
}

func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "base url of the provhub server")

	viper.SetEnvPrefix("PROVHUB")
	viper.BindEnv("server")                                        // nolint: errcheck
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server")) // nolint: errcheck
}

func serverURL() string {
	return viper.GetString("server")
}
