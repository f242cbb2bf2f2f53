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

package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrStaleObject is returned when a removed object is mutated or read.
	// Removed objects are unusable permanently.
	ErrStaleObject = errors.New("object has been removed and can no longer be used")
	// ErrInvalidAttributes is returned when defining keys are missing or empty.
	ErrInvalidAttributes = errors.New("invalid attributes")
	// ErrDefiningKeyImmutable is returned when a defining key that is already
	// set would be changed. Defining keys are write-once.
	ErrDefiningKeyImmutable = errors.New("defining keys cannot be changed")
)

// RepositoryObject is the single entity type of the shop. The Kind tag
// selects the defining keys and, for deployment versions, the artifact
// payload. Attributes and tags share a namespace when exported for filter
// matching but never merge for identity purposes.
type RepositoryObject struct {
	// ID is derived from the defining-key values and is the object's
	// immutable identity. Indexed by the object repositories.
	ID   string
	Kind Kind

	mu         sync.RWMutex
	attributes map[string]string
	tags       map[string]string
	deleted    bool

	// payload for KindDeploymentVersion, ordered
	deploymentArtifacts []DeploymentArtifact
}

// NewRepositoryObject validates the defining keys for the kind and builds
// the object. It does not register the object anywhere.
func NewRepositoryObject(kind Kind, attributes map[string]string, tags map[string]string) (*RepositoryObject, error) {
	for _, key := range DefiningKeys(kind) {
		if attributes[key] == "" {
			return nil, fmt.Errorf("%w: defining key %q for kind %q is missing or empty", ErrInvalidAttributes, key, kind)
		}
	}

	obj := &RepositoryObject{
		ID:         ObjectID(kind, attributes),
		Kind:       kind,
		attributes: make(map[string]string, len(attributes)),
		tags:       make(map[string]string, len(tags)),
	}
	for k, v := range attributes {
		obj.attributes[k] = v
	}
	for k, v := range tags {
		obj.tags[k] = v
	}
	return obj, nil
}

// ObjectID derives the identity string from the defining-key values.
// Values are filter-escaped so an ID cannot collide through separator
// injection.
func ObjectID(kind Kind, attributes map[string]string) string {
	parts := make([]string, 0, len(DefiningKeys(kind))+1)
	parts = append(parts, string(kind))
	for _, key := range DefiningKeys(kind) {
		parts = append(parts, strings.ReplaceAll(attributes[key], "|", "\\|"))
	}
	return strings.Join(parts, "|")
}

func (o *RepositoryObject) Attribute(key string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.attributes[key]
}

func (o *RepositoryObject) Tag(key string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tags[key]
}

// AddAttribute sets an attribute. Defining keys are write-once: setting a
// defining key to a different value fails, setting it to the same value is
// a no-op.
func (o *RepositoryObject) AddAttribute(key, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deleted {
		return ErrStaleObject
	}
	if isDefiningKey(o.Kind, key) && o.attributes[key] != value {
		return fmt.Errorf("%w: %q", ErrDefiningKeyImmutable, key)
	}
	o.attributes[key] = value
	return nil
}

func (o *RepositoryObject) AddTag(key, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deleted {
		return ErrStaleObject
	}
	if value == "" {
		delete(o.tags, key)
		return nil
	}
	o.tags[key] = value
	return nil
}

func (o *RepositoryObject) Attributes() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res := make(map[string]string, len(o.attributes))
	for k, v := range o.attributes {
		res[k] = v
	}
	return res
}

func (o *RepositoryObject) Tags() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res := make(map[string]string, len(o.tags))
	for k, v := range o.tags {
		res[k] = v
	}
	return res
}

// Dictionary exposes attributes and tags as one multi-value view for filter
// matching. A key present as both attribute and tag with different values
// yields both values; filters match against either.
func (o *RepositoryObject) Dictionary() map[string][]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	dict := make(map[string][]string, len(o.attributes)+len(o.tags))
	for k, v := range o.attributes {
		dict[k] = append(dict[k], v)
	}
	for k, v := range o.tags {
		if len(dict[k]) == 1 && dict[k][0] == v {
			continue
		}
		dict[k] = append(dict[k], v)
	}
	return dict
}

// DeploymentArtifacts returns the ordered artifact payload of a deployment
// version object.
func (o *RepositoryObject) DeploymentArtifacts() []DeploymentArtifact {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res := make([]DeploymentArtifact, len(o.deploymentArtifacts))
	copy(res, o.deploymentArtifacts)
	return res
}

// SetDeploymentArtifacts attaches the artifact payload. The (gatewayID,
// version) identity stays frozen; only the payload is writable, and only
// while the object is alive.
func (o *RepositoryObject) SetDeploymentArtifacts(artifacts []DeploymentArtifact) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deleted {
		return ErrStaleObject
	}
	o.deploymentArtifacts = make([]DeploymentArtifact, len(artifacts))
	copy(o.deploymentArtifacts, artifacts)
	return nil
}

// MarkDeleted makes the object permanently unusable. Called by the owning
// repository on remove.
func (o *RepositoryObject) MarkDeleted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = true
}

func (o *RepositoryObject) Deleted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.deleted
}

// SortedAttributeKeys is used by the persistence codec for deterministic
// output.
func (o *RepositoryObject) SortedAttributeKeys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.attributes))
	for k := range o.attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
