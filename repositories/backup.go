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

package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrNoBackup is returned when no local copy exists yet.
var ErrNoBackup = errors.New("no local repository copy")

// BackupStore keeps the local cached copy of one remote repository. Writes
// never happen in place: a new blob goes to a temp file first, the previous
// current file becomes the backup, then the temp file is renamed into
// place. An interrupted write therefore always leaves either a valid
// current or a valid backup file behind.
type BackupStore struct {
	dir      string
	customer string
	name     string
}

type backupMeta struct {
	Version int64  `json:"version"`
	Blob    []byte `json:"blob"`
}

func NewBackupStore(dir, customer, name string) (*BackupStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create backup directory: %w", err)
	}
	return &BackupStore{dir: dir, customer: customer, name: name}, nil
}

func (s *BackupStore) currentPath() string {
	return filepath.Join(s.dir, s.customer+"-"+s.name+".current")
}

func (s *BackupStore) backupPath() string {
	return filepath.Join(s.dir, s.customer+"-"+s.name+".backup")
}

// Write stores a blob with its remote version as the new current copy.
func (s *BackupStore) Write(blob []byte, version int64) error {
	data, err := json.Marshal(backupMeta{Version: version, Blob: blob})
	if err != nil {
		return err
	}

	tmp := filepath.Join(s.dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("could not write repository copy: %w", err)
	}

	// keep the previous current file as the recovery backup before swapping
	if _, err := os.Stat(s.currentPath()); err == nil {
		if err := os.Rename(s.currentPath(), s.backupPath()); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("could not rotate repository backup: %w", err)
		}
	}
	if err := os.Rename(tmp, s.currentPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not swap repository copy: %w", err)
	}
	return nil
}

// Read returns the current copy, falling back to the backup file if the
// current one is missing or corrupt.
func (s *BackupStore) Read() ([]byte, int64, error) {
	blob, version, err := readMeta(s.currentPath())
	if err == nil {
		return blob, version, nil
	}
	blob, version, backupErr := readMeta(s.backupPath())
	if backupErr == nil {
		return blob, version, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, ErrNoBackup
	}
	return nil, 0, err
}

// Version returns the version of the local copy without handing out the
// blob. Used for cheap staleness checks.
func (s *BackupStore) Version() (int64, error) {
	_, version, err := s.Read()
	return version, err
}

func readMeta(path string) ([]byte, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	var meta backupMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, 0, fmt.Errorf("corrupt repository copy %s: %w", filepath.Base(path), err)
	}
	return meta.Blob, meta.Version, nil
}
