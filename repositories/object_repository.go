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
	"sync"

	"github.com/hashicorp/go-memdb"
	"github.com/provhub-dev/provhub/filter"
	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/shared"
)

var (
	// ErrDuplicateObject is returned when an object with the same
	// defining-key values already exists.
	ErrDuplicateObject = errors.New("object with identical defining keys already exists")
	ErrNotFound        = errors.New("object not found")
)

type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeChanged ChangeType = "changed"
	ChangeRemoved ChangeType = "removed"
)

const pkIndex = "id"

// ObjectRepository is the filter-queryable collection for one object kind.
// Mutations run under the repository mutex and a memdb write transaction;
// reads work on a memdb snapshot and never hold the lock during iteration.
type ObjectRepository struct {
	kind   models.Kind
	mu     sync.Mutex
	db     *memdb.MemDB
	broker shared.PubSubBroker
}

func NewObjectRepository(kind models.Kind, broker shared.PubSubBroker) (*ObjectRepository, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			string(kind): {
				Name: string(kind),
				Indexes: map[string]*memdb.IndexSchema{
					pkIndex: {
						Name:    pkIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("could not build memdb schema for %s: %w", kind, err)
	}
	return &ObjectRepository{kind: kind, db: db, broker: broker}, nil
}

func (r *ObjectRepository) Kind() models.Kind {
	return r.kind
}

// Create validates the defining keys, enforces identity uniqueness and
// stores the object.
func (r *ObjectRepository) Create(attributes, tags map[string]string) (*models.RepositoryObject, error) {
	obj, err := models.NewRepositoryObject(r.kind, attributes, tags)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	txn := r.db.Txn(true)
	existing, err := txn.First(string(r.kind), pkIndex, obj.ID)
	if err != nil {
		txn.Abort()
		return nil, err
	}
	if existing != nil {
		txn.Abort()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateObject, obj.ID)
	}
	if err := txn.Insert(string(r.kind), obj); err != nil {
		txn.Abort()
		return nil, err
	}
	txn.Commit()

	r.publish(obj, ChangeAdded)
	return obj, nil
}

// Get returns a snapshot of all objects. Insertion order is not guaranteed.
func (r *ObjectRepository) Get() []*models.RepositoryObject {
	txn := r.db.Txn(false)
	it, err := txn.Get(string(r.kind), pkIndex)
	if err != nil {
		return nil
	}
	var res []*models.RepositoryObject
	for raw := it.Next(); raw != nil; raw = it.Next() {
		res = append(res, raw.(*models.RepositoryObject))
	}
	return res
}

// GetFilter returns all objects whose combined attribute+tag dictionary
// matches the filter. The scan is linear by contract.
func (r *ObjectRepository) GetFilter(src string) ([]*models.RepositoryObject, error) {
	f, err := filter.Parse(src)
	if err != nil {
		return nil, err
	}
	var res []*models.RepositoryObject
	for _, obj := range r.Get() {
		if f.Match(obj.Dictionary()) {
			res = append(res, obj)
		}
	}
	return res, nil
}

func (r *ObjectRepository) GetByID(id string) (*models.RepositoryObject, error) {
	txn := r.db.Txn(false)
	raw, err := txn.First(string(r.kind), pkIndex, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return raw.(*models.RepositoryObject), nil
}

// Remove drops the object from the index, marks it permanently unusable and
// fires a removed event.
func (r *ObjectRepository) Remove(obj *models.RepositoryObject) error {
	if obj.Deleted() {
		return models.ErrStaleObject
	}

	r.mu.Lock()
	txn := r.db.Txn(true)
	if err := txn.Delete(string(r.kind), obj); err != nil {
		txn.Abort()
		r.mu.Unlock()
		if errors.Is(err, memdb.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, obj.ID)
		}
		return err
	}
	txn.Commit()
	r.mu.Unlock()

	obj.MarkDeleted()
	r.publish(obj, ChangeRemoved)
	return nil
}

// NotifyChanged fires a changed event after callers mutated attributes or
// tags of an object in place.
func (r *ObjectRepository) NotifyChanged(obj *models.RepositoryObject) {
	r.publish(obj, ChangeChanged)
}

// Len is a cheap count for diagnostics and tests.
func (r *ObjectRepository) Len() int {
	return len(r.Get())
}

// replaceAll swaps the complete content of the repository. Used by the
// repository set on checkout and revert; the set fires RepositoryRefresh
// afterwards instead of per-object events.
func (r *ObjectRepository) replaceAll(objs []*models.RepositoryObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn := r.db.Txn(true)
	if _, err := txn.DeleteAll(string(r.kind), pkIndex); err != nil {
		txn.Abort()
		return err
	}
	for _, obj := range objs {
		if obj.Kind != r.kind {
			txn.Abort()
			return fmt.Errorf("cannot load %s object into %s repository", obj.Kind, r.kind)
		}
		if err := txn.Insert(string(r.kind), obj); err != nil {
			txn.Abort()
			return err
		}
	}
	txn.Commit()
	return nil
}

func (r *ObjectRepository) publish(obj *models.RepositoryObject, change ChangeType) {
	if r.broker == nil {
		return
	}
	payload := map[string]any{
		"id":   obj.ID,
		"kind": string(r.kind),
		"type": string(change),
	}
	switch r.kind {
	case models.KindGateway:
		payload["gatewayID"] = obj.Attribute(models.AttrID)
	case models.KindDeploymentVersion:
		payload["gatewayID"] = obj.Attribute(models.AttrGatewayID)
	}
	err := r.broker.Publish(context.Background(), shared.NewSimplePubSubMessage(channelFor(r.kind), payload))
	if err != nil {
		// change events are best effort, subscribers resynchronize on the
		// next refresh
		return
	}
}

func channelFor(kind models.Kind) shared.PubSubChannel {
	switch kind {
	case models.KindGateway:
		return shared.GatewayChange
	case models.KindDeploymentVersion:
		return shared.DeploymentVersionChange
	default:
		return shared.ShopChange
	}
}
