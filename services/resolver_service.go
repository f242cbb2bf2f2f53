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
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/provhub-dev/provhub/filter"
	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/repositories"
	"golang.org/x/mod/semver"
)

var (
	// ErrUnknownTarget is returned when the gateway ID does not exist. A
	// gateway without licenses is NOT an error; it resolves to nil.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrMissingProcessor is returned when an artifact needs a resource
	// processor and no registered bundle publishes the PID. Fatal for the
	// attempt, not retryable until the shop data changes.
	ErrMissingProcessor = errors.New("no resource processor registered")
)

// ResolverService computes the concrete deployment artifact set for a
// gateway from the artifact/group/license association graph. It is
// state-free; all state lives in the repositories.
type ResolverService struct {
	artifacts          *repositories.ObjectRepository
	gateways           *repositories.ObjectRepository
	deploymentVersions *repositories.ObjectRepository
	artifact2Group     *repositories.AssociationRepository
	group2License      *repositories.AssociationRepository
	license2Gateway    *repositories.AssociationRepository
	helper             models.ArtifactHelper
	preprocessor       models.ArtifactPreprocessor
}

func NewResolverService(
	artifacts, gateways, deploymentVersions *repositories.ObjectRepository,
	artifact2Group, group2License, license2Gateway *repositories.AssociationRepository,
	helper models.ArtifactHelper,
	preprocessor models.ArtifactPreprocessor,
) *ResolverService {
	if helper == nil {
		helper = models.BundleHelper{}
	}
	return &ResolverService{
		artifacts:          artifacts,
		gateways:           gateways,
		deploymentVersions: deploymentVersions,
		artifact2Group:     artifact2Group,
		group2License:      group2License,
		license2Gateway:    license2Gateway,
		helper:             helper,
		preprocessor:       preprocessor,
	}
}

// Resolve computes the deployment artifacts the gateway must run for the
// given target version. A nil result with nil error means the gateway has
// no licensed artifacts. Result order is insertion-order-of-computation
// and not contractually stable.
func (s *ResolverService) Resolve(gatewayID, targetVersion string) ([]models.DeploymentArtifact, error) {
	gateway, err := s.gateways.GetByID(models.ObjectID(models.KindGateway, map[string]string{models.AttrID: gatewayID}))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, gatewayID)
	}

	licenses := s.license2Gateway.AssociatedLeft(gateway)
	if len(licenses) == 0 {
		return nil, nil
	}

	// transitive closure License -> Group -> Artifact, deduplicated by
	// identity
	required := map[string]*models.RepositoryObject{}
	for _, license := range licenses {
		for _, group := range s.group2License.AssociatedLeft(license) {
			for _, artifact := range s.artifact2Group.AssociatedLeft(group) {
				required[artifact.ID] = artifact
			}
		}
	}
	if len(required) == 0 {
		return nil, nil
	}

	// partition into directly deployable artifacts and artifacts that need
	// a resource processor; processors join the deployable set unless they
	// are already in it
	deployable := map[string]*models.RepositoryObject{}
	var processed []*models.RepositoryObject
	for _, artifact := range required {
		if s.helper.CanUse(artifact) {
			deployable[artifact.ID] = artifact
			continue
		}
		processed = append(processed, artifact)
	}
	for _, artifact := range processed {
		pid := s.helper.ProcessorPID(artifact)
		if pid == "" {
			return nil, fmt.Errorf("%w: artifact %s declares no processor PID", ErrMissingProcessor, artifact.Attribute(models.AttrURL))
		}
		processor, err := s.findProcessor(pid)
		if err != nil {
			return nil, fmt.Errorf("%w: PID %q needed by %s", ErrMissingProcessor, pid, artifact.Attribute(models.AttrURL))
		}
		deployable[processor.ID] = processor
	}

	var result []models.DeploymentArtifact
	for _, bundle := range deployable {
		da, err := s.buildArtifact(bundle, gatewayID, targetVersion)
		if err != nil {
			return nil, err
		}
		result = append(result, da)
	}
	for _, artifact := range processed {
		da, err := s.buildArtifact(artifact, gatewayID, targetVersion)
		if err != nil {
			return nil, err
		}
		result = append(result, da)
	}
	return result, nil
}

// NextVersion computes the version label for the gateway's next deployment
// version: (currentMajor+1).0.0, or 1.0.0 when there is no parsable
// predecessor. Minor and micro are always reset; every new version forces
// a full redeploy.
func (s *ResolverService) NextVersion(gatewayID string) string {
	highest := ""
	for _, v := range s.versionsOf(gatewayID) {
		canon := "v" + v
		if !semver.IsValid(canon) {
			continue
		}
		if highest == "" || semver.Compare(canon, "v"+highest) > 0 {
			highest = v
		}
	}
	if highest == "" {
		return "1.0.0"
	}
	major, err := strconv.Atoi(strings.TrimPrefix(semver.Major("v"+highest), "v"))
	if err != nil {
		return "1.0.0"
	}
	return fmt.Sprintf("%d.0.0", major+1)
}

// CreateDeploymentVersion resolves the gateway's artifact set and persists
// it as the next deployment version. The (gatewayID, version) identity is
// enforced by the repository: re-running against unchanged state yields a
// duplicate-identity error.
func (s *ResolverService) CreateDeploymentVersion(gatewayID string) (*models.RepositoryObject, error) {
	version := s.NextVersion(gatewayID)
	artifacts, err := s.Resolve(gatewayID, version)
	if err != nil {
		return nil, err
	}

	obj, err := s.deploymentVersions.Create(map[string]string{
		models.AttrGatewayID: gatewayID,
		models.AttrVersion:   version,
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := obj.SetDeploymentArtifacts(artifacts); err != nil {
		return nil, err
	}
	return obj, nil
}

// versionsOf lists the version labels of all deployment versions of the
// gateway.
func (s *ResolverService) versionsOf(gatewayID string) []string {
	objs, err := s.deploymentVersions.GetFilter("(" + models.AttrGatewayID + "=" + filter.Escape(gatewayID) + ")")
	if err != nil {
		return nil
	}
	versions := make([]string, 0, len(objs))
	for _, obj := range objs {
		versions = append(versions, obj.Attribute(models.AttrVersion))
	}
	return versions
}

func (s *ResolverService) findProcessor(pid string) (*models.RepositoryObject, error) {
	// processors are looked up in the whole shop, not just the gateway's
	// licensed artifacts
	for _, candidate := range s.artifacts.Get() {
		if s.helper.ProvidedProcessorPID(candidate) == pid {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingProcessor, pid)
}

func (s *ResolverService) buildArtifact(artifact *models.RepositoryObject, gatewayID, version string) (models.DeploymentArtifact, error) {
	url := artifact.Attribute(models.AttrURL)
	directives := map[string]string{}

	if s.helper.CanUse(artifact) {
		if v := artifact.Attribute(models.AttrSymbolicName); v != "" {
			directives[models.DirectiveSymbolicName] = v
		}
		if v := artifact.Attribute(models.AttrBundleVersion); v != "" {
			directives[models.DirectiveVersion] = v
		}
		if s.helper.ProvidedProcessorPID(artifact) != "" {
			directives[models.DirectiveIsCustomizer] = "true"
		}
	} else {
		directives[models.DirectiveProcessorPID] = s.helper.ProcessorPID(artifact)
		if name := artifact.Attribute(models.AttrArtifactName); name != "" {
			directives[models.DirectiveResourceID] = name
		}
	}

	if s.preprocessor != nil {
		rewritten, err := s.preprocessor.Preprocess(artifact, gatewayID, version)
		if err != nil {
			return models.DeploymentArtifact{}, err
		}
		if rewritten != "" && rewritten != url {
			directives[models.DirectiveBaseURL] = url
			url = rewritten
		}
	}

	return models.DeploymentArtifact{URL: url, Directives: directives}, nil
}
