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
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/provhub-dev/provhub/filter"
	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/shared"
)

// ErrMissingComparator is returned when an endpoint filter matches more
// objects than the cardinality allows and no comparator is available to
// pick the canonical matches.
var ErrMissingComparator = errors.New("endpoint matches exceed cardinality and no comparator is set")

// Comparator orders candidate endpoint matches; the best matches win the
// cardinality-capped slots. Negative means a ranks before b.
type Comparator func(a, b *models.RepositoryObject) int

type associationMembers struct {
	left  []string
	right []string
}

// AssociationRepository stores the association objects of one association
// kind plus the resolved membership index. Traversal is an index lookup
// (objectID -> associationIDs -> member IDs), not a live pointer walk, so
// the object graph stays acyclic.
type AssociationRepository struct {
	*ObjectRepository

	leftRepo  *ObjectRepository
	rightRepo *ObjectRepository

	mu         sync.Mutex
	members    map[string]*associationMembers
	leftIndex  map[string]map[string]struct{}
	rightIndex map[string]map[string]struct{}
}

func NewAssociationRepository(kind models.Kind, leftRepo, rightRepo *ObjectRepository, broker shared.PubSubBroker) (*AssociationRepository, error) {
	if !models.IsAssociationKind(kind) {
		return nil, fmt.Errorf("%s is not an association kind", kind)
	}
	leftKind, rightKind := models.AssociationEnds(kind)
	if leftRepo.Kind() != leftKind || rightRepo.Kind() != rightKind {
		return nil, fmt.Errorf("endpoint repositories %s/%s do not match association kind %s",
			leftRepo.Kind(), rightRepo.Kind(), kind)
	}
	objects, err := NewObjectRepository(kind, broker)
	if err != nil {
		return nil, err
	}
	return &AssociationRepository{
		ObjectRepository: objects,
		leftRepo:         leftRepo,
		rightRepo:        rightRepo,
		members:          make(map[string]*associationMembers),
		leftIndex:        make(map[string]map[string]struct{}),
		rightIndex:       make(map[string]map[string]struct{}),
	}, nil
}

// CreateAssociation resolves both endpoint filters, applies the cardinality
// caps and stores the association as a first-class repository object.
func (r *AssociationRepository) CreateAssociation(leftFilter, rightFilter string, leftCardinality, rightCardinality int, comparator Comparator) (*models.RepositoryObject, error) {
	left, err := r.resolveEndpoint(r.leftRepo, leftFilter, leftCardinality, comparator)
	if err != nil {
		return nil, err
	}
	right, err := r.resolveEndpoint(r.rightRepo, rightFilter, rightCardinality, comparator)
	if err != nil {
		return nil, err
	}

	obj, err := r.ObjectRepository.Create(map[string]string{
		models.AttrLeftEndpoint:     leftFilter,
		models.AttrRightEndpoint:    rightFilter,
		models.AttrLeftCardinality:  strconv.Itoa(leftCardinality),
		models.AttrRightCardinality: strconv.Itoa(rightCardinality),
	}, nil)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.index(obj.ID, left, right)
	r.mu.Unlock()
	return obj, nil
}

// Associate links two concrete objects with cardinality 1 on both sides,
// using exact defining-key filters.
func (r *AssociationRepository) Associate(left, right *models.RepositoryObject) (*models.RepositoryObject, error) {
	return r.CreateAssociation(EndpointFilter(left), EndpointFilter(right), 1, 1, nil)
}

// RemoveAssociation drops the association object and its membership index
// entries.
func (r *AssociationRepository) RemoveAssociation(obj *models.RepositoryObject) error {
	if err := r.ObjectRepository.Remove(obj); err != nil {
		return err
	}
	r.mu.Lock()
	r.unindex(obj.ID)
	r.mu.Unlock()
	return nil
}

// AssociatedRight returns the right-hand objects reachable from left
// through any association of this kind. Endpoints whose objects have been
// removed since resolution are skipped.
func (r *AssociationRepository) AssociatedRight(left *models.RepositoryObject) []*models.RepositoryObject {
	return r.associated(left.ID, true)
}

// AssociatedLeft is the reverse traversal.
func (r *AssociationRepository) AssociatedLeft(right *models.RepositoryObject) []*models.RepositoryObject {
	return r.associated(right.ID, false)
}

// IsAssociated reports whether a concrete (left, right) pair is linked by
// any association of this kind.
func (r *AssociationRepository) IsAssociated(left, right *models.RepositoryObject) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for assocID := range r.leftIndex[left.ID] {
		m := r.members[assocID]
		if m == nil {
			continue
		}
		for _, id := range m.right {
			if id == right.ID {
				return true
			}
		}
	}
	return false
}

// Rebuild re-resolves the membership index from the stored association
// objects. Called after a checkout or revert replaced repository contents.
// Ties beyond the cardinality are broken by object ID since the creating
// comparator is not persisted.
func (r *AssociationRepository) Rebuild() error {
	byID := func(a, b *models.RepositoryObject) int {
		return strings.Compare(a.ID, b.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = make(map[string]*associationMembers)
	r.leftIndex = make(map[string]map[string]struct{})
	r.rightIndex = make(map[string]map[string]struct{})

	for _, obj := range r.ObjectRepository.Get() {
		leftCard, err := strconv.Atoi(obj.Attribute(models.AttrLeftCardinality))
		if err != nil {
			leftCard = 1
		}
		rightCard, err := strconv.Atoi(obj.Attribute(models.AttrRightCardinality))
		if err != nil {
			rightCard = 1
		}
		left, err := r.resolveEndpoint(r.leftRepo, obj.Attribute(models.AttrLeftEndpoint), leftCard, byID)
		if err != nil {
			return fmt.Errorf("rebuilding %s: %w", obj.ID, err)
		}
		right, err := r.resolveEndpoint(r.rightRepo, obj.Attribute(models.AttrRightEndpoint), rightCard, byID)
		if err != nil {
			return fmt.Errorf("rebuilding %s: %w", obj.ID, err)
		}
		r.index(obj.ID, left, right)
	}
	return nil
}

func (r *AssociationRepository) resolveEndpoint(repo *ObjectRepository, src string, cardinality int, comparator Comparator) ([]*models.RepositoryObject, error) {
	matches, err := repo.GetFilter(src)
	if err != nil {
		return nil, err
	}
	if len(matches) > cardinality {
		if comparator == nil {
			return nil, fmt.Errorf("%w: filter %q matched %d objects, cardinality %d",
				ErrMissingComparator, src, len(matches), cardinality)
		}
		sort.SliceStable(matches, func(i, j int) bool {
			return comparator(matches[i], matches[j]) < 0
		})
		matches = matches[:cardinality]
	}
	return matches, nil
}

func (r *AssociationRepository) associated(id string, toRight bool) []*models.RepositoryObject {
	r.mu.Lock()
	index := r.leftIndex
	repo := r.rightRepo
	if !toRight {
		index = r.rightIndex
		repo = r.leftRepo
	}
	seen := map[string]struct{}{}
	var ids []string
	for assocID := range index[id] {
		m := r.members[assocID]
		if m == nil {
			continue
		}
		memberIDs := m.right
		if !toRight {
			memberIDs = m.left
		}
		for _, mid := range memberIDs {
			if _, ok := seen[mid]; ok {
				continue
			}
			seen[mid] = struct{}{}
			ids = append(ids, mid)
		}
	}
	r.mu.Unlock()

	var res []*models.RepositoryObject
	for _, mid := range ids {
		obj, err := repo.GetByID(mid)
		if err != nil {
			continue
		}
		res = append(res, obj)
	}
	return res
}

// index and unindex must run under r.mu.
func (r *AssociationRepository) index(assocID string, left, right []*models.RepositoryObject) {
	m := &associationMembers{}
	for _, obj := range left {
		m.left = append(m.left, obj.ID)
		if r.leftIndex[obj.ID] == nil {
			r.leftIndex[obj.ID] = make(map[string]struct{})
		}
		r.leftIndex[obj.ID][assocID] = struct{}{}
	}
	for _, obj := range right {
		m.right = append(m.right, obj.ID)
		if r.rightIndex[obj.ID] == nil {
			r.rightIndex[obj.ID] = make(map[string]struct{})
		}
		r.rightIndex[obj.ID][assocID] = struct{}{}
	}
	r.members[assocID] = m
}

func (r *AssociationRepository) unindex(assocID string) {
	m := r.members[assocID]
	if m == nil {
		return
	}
	for _, id := range m.left {
		delete(r.leftIndex[id], assocID)
	}
	for _, id := range m.right {
		delete(r.rightIndex[id], assocID)
	}
	delete(r.members, assocID)
}

// EndpointFilter builds the exact-match endpoint filter for an object from
// its defining keys, with all values filter-escaped.
func EndpointFilter(obj *models.RepositoryObject) string {
	keys := models.DefiningKeys(obj.Kind)
	if len(keys) == 1 {
		return "(" + keys[0] + "=" + filter.Escape(obj.Attribute(keys[0])) + ")"
	}
	var b strings.Builder
	b.WriteString("(&")
	for _, key := range keys {
		b.WriteString("(")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(filter.Escape(obj.Attribute(key)))
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}
