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
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrConflict is returned when a commit's from-version no longer
	// matches the head. Expected and recoverable: re-checkout and retry.
	ErrConflict = errors.New("commit conflict, repository has moved on")
	// ErrNoSuchVersion is returned for checkouts of versions the store
	// does not have.
	ErrNoSuchVersion = errors.New("no such repository version")
)

// BlobStore is the authoritative server-side versioned repository: an
// append-only sequence of opaque blobs per (customer, name), with
// monotonically increasing integer versions starting at 1.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[string][][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][][]byte)}
}

func storeKey(customer, name string) string {
	return customer + "\x00" + name
}

func (s *BlobStore) Checkout(customer, name string, version int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.blobs[storeKey(customer, name)]
	if version < 1 || version > int64(len(versions)) {
		return nil, fmt.Errorf("%w: %s/%s version %d", ErrNoSuchVersion, customer, name, version)
	}
	blob := versions[version-1]
	res := make([]byte, len(blob))
	copy(res, blob)
	return res, nil
}

// Commit appends a new version if fromVersion still names the head.
func (s *BlobStore) Commit(customer, name string, blob []byte, fromVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(customer, name)
	head := int64(len(s.blobs[key]))
	if fromVersion != head {
		return 0, fmt.Errorf("%w: head is %d, commit based on %d", ErrConflict, head, fromVersion)
	}
	stored := make([]byte, len(blob))
	copy(stored, blob)
	s.blobs[key] = append(s.blobs[key], stored)
	return head + 1, nil
}

// Range returns the available version bounds. (0, 0) means the repository
// has no history yet.
func (s *BlobStore) Range(customer, name string) (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	high := int64(len(s.blobs[storeKey(customer, name)]))
	if high == 0 {
		return 0, 0
	}
	return 1, high
}
