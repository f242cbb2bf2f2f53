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

package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/provhub-dev/provhub/filter"
	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/repositories"
	"golang.org/x/mod/semver"
)

// BackoffTimePerUser is the backoff granted per user over the admission
// ceiling. Agents are contractually expected to sleep and retry; the
// server takes no further action.
const BackoffTimePerUser = 5 * time.Second

// OverloadedError rejects a request beyond the configured concurrency
// ceiling. It carries the structured backoff hint, proportional to the
// overcommit amount. This is the system's only backpressure mechanism and
// is a first-class error kind, never silently dropped.
type OverloadedError struct {
	Backoff time.Duration
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("too many users, back off for %s", e.Backoff)
}

func (e *OverloadedError) BackoffSeconds() int {
	return int(e.Backoff / time.Second)
}

const packageCacheSize = 128

// DeploymentService serves the deployment version history and package data
// of targets. Package payloads are cached; the cache key is the immutable
// (gatewayID, version) identity, so entries never go stale.
type DeploymentService struct {
	deploymentVersions *repositories.ObjectRepository
	cache              *lru.Cache[string, []byte]

	// maximumNumberOfUsers caps concurrent package downloads, 0 = no cap
	maximumNumberOfUsers int64
	currentUsers         atomic.Int64

	// test seam, runs while the user slot is held
	holdSlot func()
}

func NewDeploymentService(deploymentVersions *repositories.ObjectRepository, maximumNumberOfUsers int) (*DeploymentService, error) {
	cache, err := lru.New[string, []byte](packageCacheSize)
	if err != nil {
		return nil, err
	}
	return &DeploymentService{
		deploymentVersions:   deploymentVersions,
		cache:                cache,
		maximumNumberOfUsers: int64(maximumNumberOfUsers),
	}, nil
}

// ListVersions returns the version labels of a target, ascending.
func (s *DeploymentService) ListVersions(gatewayID string) ([]string, error) {
	objs, err := s.deploymentVersions.GetFilter("(" + models.AttrGatewayID + "=" + filter.Escape(gatewayID) + ")")
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(objs))
	for _, obj := range objs {
		versions = append(versions, obj.Attribute(models.AttrVersion))
	}
	sort.Slice(versions, func(i, j int) bool {
		vi, vj := "v"+versions[i], "v"+versions[j]
		if semver.IsValid(vi) && semver.IsValid(vj) {
			return semver.Compare(vi, vj) < 0
		}
		return versions[i] < versions[j]
	})
	return versions, nil
}

// GetBundleData returns the deployment package payload for one version of
// a target. Requests beyond the admission ceiling fail with
// *OverloadedError carrying the backoff hint.
func (s *DeploymentService) GetBundleData(gatewayID, version string) ([]byte, error) {
	current := s.currentUsers.Add(1)
	defer s.currentUsers.Add(-1)
	if s.maximumNumberOfUsers > 0 && current > s.maximumNumberOfUsers {
		overcommit := current - s.maximumNumberOfUsers
		return nil, &OverloadedError{Backoff: time.Duration(overcommit) * BackoffTimePerUser}
	}
	if s.holdSlot != nil {
		s.holdSlot()
	}

	key := gatewayID + "\x00" + version
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}

	obj, err := s.deploymentVersions.GetByID(models.ObjectID(models.KindDeploymentVersion, map[string]string{
		models.AttrGatewayID: gatewayID,
		models.AttrVersion:   version,
	}))
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(struct {
		GatewayID string                      `json:"gatewayID"`
		Version   string                      `json:"version"`
		Artifacts []models.DeploymentArtifact `json:"artifacts"`
	}{
		GatewayID: gatewayID,
		Version:   version,
		Artifacts: obj.DeploymentArtifacts(),
	})
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, data)
	return data, nil
}
