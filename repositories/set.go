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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/shared"
)

var (
	// ErrEmptyRepository is returned by a failing checkout against a
	// remote with no history. Non-fail checkouts return empty contents
	// instead.
	ErrEmptyRepository = errors.New("remote repository has no versions yet")
	// ErrSetConflict is returned when a login would violate set
	// uniqueness: same (customer, name, location) triple, or two sets
	// sharing an object kind.
	ErrSetConflict = errors.New("repository set conflicts with an active set")
)

// RepositorySet groups the object repositories that are serialized and
// committed together atomically against one remote versioned repository.
// All protocol operations run under one mutex; holding it across the
// remote call is required for the checkout-then-swap atomic region.
type RepositorySet struct {
	customer string
	name     string
	remote   RemoteRepository
	backup   *BackupStore
	broker   shared.PubSubBroker

	mu          sync.Mutex
	version     int64 // checked-out remote version, 0 = nothing checked out
	objectRepos map[models.Kind]*ObjectRepository
	assocRepos  map[models.Kind]*AssociationRepository
}

func NewRepositorySet(customer, name string, remote RemoteRepository, backup *BackupStore, broker shared.PubSubBroker,
	repos []*ObjectRepository, assocs []*AssociationRepository) (*RepositorySet, error) {
	set := &RepositorySet{
		customer:    customer,
		name:        name,
		remote:      remote,
		backup:      backup,
		broker:      broker,
		objectRepos: make(map[models.Kind]*ObjectRepository),
		assocRepos:  make(map[models.Kind]*AssociationRepository),
	}
	for _, repo := range repos {
		if _, ok := set.objectRepos[repo.Kind()]; ok {
			return nil, fmt.Errorf("duplicate repository for kind %s", repo.Kind())
		}
		set.objectRepos[repo.Kind()] = repo
	}
	for _, assoc := range assocs {
		if _, ok := set.objectRepos[assoc.Kind()]; ok {
			return nil, fmt.Errorf("duplicate repository for kind %s", assoc.Kind())
		}
		set.objectRepos[assoc.Kind()] = assoc.ObjectRepository
		set.assocRepos[assoc.Kind()] = assoc
	}
	return set, nil
}

func (s *RepositorySet) Customer() string { return s.customer }
func (s *RepositorySet) Name() string     { return s.name }

// Kinds lists the object kinds this set owns.
func (s *RepositorySet) Kinds() []models.Kind {
	kinds := make([]models.Kind, 0, len(s.objectRepos))
	for kind := range s.objectRepos {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Location identifies the remote this set is bound to.
func (s *RepositorySet) Location() string {
	return s.remote.Location()
}

// CurrentVersion returns the checked-out remote version, 0 if none.
func (s *RepositorySet) CurrentVersion() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// IsCurrent compares the local version against the remote head without a
// full fetch.
func (s *RepositorySet) IsCurrent(ctx context.Context) (bool, error) {
	_, high, err := s.remote.GetRange(ctx)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version == high, nil
}

// Checkout fetches the remote head into the repositories. If the local
// copy is already current it is served without a remote fetch. With
// fail=false an empty remote yields empty repositories instead of an
// error, so a fresh installation without history works.
func (s *RepositorySet) Checkout(ctx context.Context, fail bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, high, err := s.remote.GetRange(ctx)
	if err != nil {
		return err
	}
	if high == 0 {
		if fail {
			return fmt.Errorf("%w: %s/%s", ErrEmptyRepository, s.customer, s.name)
		}
		if err := s.loadLocked(nil); err != nil {
			return err
		}
		s.version = 0
		s.publishRefresh()
		return nil
	}
	if s.version == high {
		return nil
	}
	if blob, version, err := s.backup.Read(); err == nil && version == high {
		// local cached copy is current, no remote fetch needed
		if err := s.loadLocked(blob); err == nil {
			s.version = version
			s.publishRefresh()
			return nil
		}
		slog.Warn("local repository copy unusable, fetching from remote",
			"customer", s.customer, "name", s.name)
	}

	blob, err := s.remote.Checkout(ctx, high)
	if err != nil {
		return err
	}
	if err := s.loadLocked(blob); err != nil {
		return err
	}
	if err := s.backup.Write(blob, high); err != nil {
		return err
	}
	s.version = high
	s.publishRefresh()
	return nil
}

// Commit serializes the set and pushes it as the next remote version.
// Optimistic concurrency: a stale base version surfaces as ErrConflict and
// the caller must checkout and reapply.
func (s *RepositorySet) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.marshalLocked()
	if err != nil {
		return err
	}
	if err := s.remote.Commit(ctx, blob, s.version); err != nil {
		return err
	}
	s.version++
	if err := s.backup.Write(blob, s.version); err != nil {
		// the commit itself succeeded, only the local cache is stale
		slog.Error("could not update local repository copy after commit", "err", err)
	}
	return nil
}

// Revert discards local uncommitted changes and restores the last known
// good local copy.
func (s *RepositorySet) Revert() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, version, err := s.backup.Read()
	if err != nil {
		if errors.Is(err, ErrNoBackup) {
			// nothing ever checked out or committed: revert to empty
			if err := s.loadLocked(nil); err != nil {
				return err
			}
			s.version = 0
			s.publishRefresh()
			return nil
		}
		return err
	}
	if err := s.loadLocked(blob); err != nil {
		return err
	}
	s.version = version
	s.publishRefresh()
	return nil
}

func (s *RepositorySet) marshalLocked() ([]byte, error) {
	repos := make([]*ObjectRepository, 0, len(s.objectRepos))
	for _, repo := range s.objectRepos {
		repos = append(repos, repo)
	}
	return marshalRepositories(repos)
}

func (s *RepositorySet) loadLocked(blob []byte) error {
	if err := unmarshalRepositories(blob, s.objectRepos); err != nil {
		return err
	}
	for _, assoc := range s.assocRepos {
		if err := assoc.Rebuild(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RepositorySet) publishRefresh() {
	if s.broker == nil {
		return
	}
	_ = s.broker.Publish(context.Background(), shared.NewSimplePubSubMessage(shared.RepositoryRefresh, map[string]any{
		"customer": s.customer,
		"name":     s.name,
	}))
}

// SetManager tracks the active repository sets of a login session and
// enforces the uniqueness invariants.
type SetManager struct {
	mu     sync.Mutex
	active map[string]*RepositorySet
	kinds  map[models.Kind]string
}

func NewSetManager() *SetManager {
	return &SetManager{
		active: make(map[string]*RepositorySet),
		kinds:  make(map[models.Kind]string),
	}
}

func setKey(set *RepositorySet) string {
	return set.Customer() + "\x00" + set.Name() + "\x00" + set.Location()
}

// Login activates a set. It fails when the (customer, name, location)
// triple is already active or another active set owns one of its kinds.
func (m *SetManager) Login(set *RepositorySet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := setKey(set)
	if _, ok := m.active[key]; ok {
		return fmt.Errorf("%w: %s/%s at %s already active", ErrSetConflict, set.Customer(), set.Name(), set.Location())
	}
	for _, kind := range set.Kinds() {
		if owner, ok := m.kinds[kind]; ok {
			return fmt.Errorf("%w: kind %s already owned by %s", ErrSetConflict, kind, owner)
		}
	}
	m.active[key] = set
	for _, kind := range set.Kinds() {
		m.kinds[kind] = key
	}
	return nil
}

// Logout deactivates a set and releases its kinds.
func (m *SetManager) Logout(set *RepositorySet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := setKey(set)
	if _, ok := m.active[key]; !ok {
		return
	}
	delete(m.active, key)
	for _, kind := range set.Kinds() {
		if m.kinds[kind] == key {
			delete(m.kinds, kind)
		}
	}
}
