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

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the server configuration, read from the environment after
// shared.LoadConfig pulled in a .env file if present.
type Config struct {
	// Port the HTTP server listens on.
	Port int
	// StorageDir holds the local repository copies.
	StorageDir string
	// Customer and Name identify the repository this node manages.
	Customer string
	Name     string
	// RemoteURL points at an upstream repository server. Empty means this
	// node is authoritative and keeps the versioned store itself.
	RemoteURL string
	// MaximumNumberOfUsers caps concurrent package downloads, 0 disables
	// admission control.
	MaximumNumberOfUsers int
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:       8080,
		StorageDir: "data",
		Customer:   "provhub",
		Name:       "shop",
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("REPOSITORY_CUSTOMER"); v != "" {
		cfg.Customer = v
	}
	if v := os.Getenv("REPOSITORY_NAME"); v != "" {
		cfg.Name = v
	}
	cfg.RemoteURL = os.Getenv("REMOTE_REPOSITORY_URL")
	if v := os.Getenv("MAX_CONCURRENT_USERS"); v != "" {
		max, err := strconv.Atoi(v)
		if err != nil || max < 0 {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT_USERS %q", v)
		}
		cfg.MaximumNumberOfUsers = max
	}
	return cfg, nil
}
