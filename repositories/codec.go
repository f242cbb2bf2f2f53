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
	"fmt"
	"sort"

	"github.com/provhub-dev/provhub/models"
)

// The persistence codec turns repository contents into the opaque blob the
// synchronization protocol ships around. The wire protocol never looks
// inside; the only contract is round-trip identity of entity counts and
// association membership.

type objectRecord struct {
	Kind       string                      `json:"kind"`
	Attributes map[string]string           `json:"attributes"`
	Tags       map[string]string           `json:"tags,omitempty"`
	Artifacts  []models.DeploymentArtifact `json:"artifacts,omitempty"`
}

type setSnapshot struct {
	Objects []objectRecord `json:"objects"`
}

func marshalRepositories(repos []*ObjectRepository) ([]byte, error) {
	snapshot := setSnapshot{Objects: []objectRecord{}}
	for _, repo := range repos {
		objs := repo.Get()
		sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
		for _, obj := range objs {
			rec := objectRecord{
				Kind:       string(obj.Kind),
				Attributes: obj.Attributes(),
				Tags:       obj.Tags(),
			}
			if obj.Kind == models.KindDeploymentVersion {
				rec.Artifacts = obj.DeploymentArtifacts()
			}
			snapshot.Objects = append(snapshot.Objects, rec)
		}
	}
	return json.Marshal(snapshot)
}

// unmarshalRepositories replaces the contents of the given repositories
// with the blob's objects. Records of kinds not present in repos are an
// error, since that means two sets share a repository object class.
func unmarshalRepositories(blob []byte, repos map[models.Kind]*ObjectRepository) error {
	byKind := make(map[models.Kind][]*models.RepositoryObject, len(repos))
	for kind := range repos {
		byKind[kind] = nil
	}

	if len(blob) > 0 {
		var snapshot setSnapshot
		if err := json.Unmarshal(blob, &snapshot); err != nil {
			return fmt.Errorf("corrupt repository blob: %w", err)
		}
		for _, rec := range snapshot.Objects {
			kind := models.Kind(rec.Kind)
			if _, ok := byKind[kind]; !ok {
				return fmt.Errorf("blob contains objects of kind %q not managed by this set", rec.Kind)
			}
			obj, err := models.NewRepositoryObject(kind, rec.Attributes, rec.Tags)
			if err != nil {
				return err
			}
			if kind == models.KindDeploymentVersion {
				if err := obj.SetDeploymentArtifacts(rec.Artifacts); err != nil {
					return err
				}
			}
			byKind[kind] = append(byKind[kind], obj)
		}
	}

	for kind, objs := range byKind {
		if err := repos[kind].replaceAll(objs); err != nil {
			return err
		}
	}
	return nil
}
