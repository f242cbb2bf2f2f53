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
	"context"

	"github.com/provhub-dev/provhub/auditlog"
	"github.com/provhub-dev/provhub/config"
	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/repositories"
	"github.com/provhub-dev/provhub/shared"
	"go.uber.org/fx"
)

// Repositories bundles the object and association repositories of the
// shop, wired once and shared by all services.
type Repositories struct {
	Artifacts          *repositories.ObjectRepository
	Groups             *repositories.ObjectRepository
	Licenses           *repositories.ObjectRepository
	Gateways           *repositories.ObjectRepository
	DeploymentVersions *repositories.ObjectRepository
	Artifact2Group     *repositories.AssociationRepository
	Group2License      *repositories.AssociationRepository
	License2Gateway    *repositories.AssociationRepository
}

func NewRepositories(broker shared.PubSubBroker) (*Repositories, error) {
	r := &Repositories{}
	var err error
	if r.Artifacts, err = repositories.NewObjectRepository(models.KindArtifact, broker); err != nil {
		return nil, err
	}
	if r.Groups, err = repositories.NewObjectRepository(models.KindGroup, broker); err != nil {
		return nil, err
	}
	if r.Licenses, err = repositories.NewObjectRepository(models.KindLicense, broker); err != nil {
		return nil, err
	}
	if r.Gateways, err = repositories.NewObjectRepository(models.KindGateway, broker); err != nil {
		return nil, err
	}
	if r.DeploymentVersions, err = repositories.NewObjectRepository(models.KindDeploymentVersion, broker); err != nil {
		return nil, err
	}
	if r.Artifact2Group, err = repositories.NewAssociationRepository(models.KindArtifact2Group, r.Artifacts, r.Groups, broker); err != nil {
		return nil, err
	}
	if r.Group2License, err = repositories.NewAssociationRepository(models.KindGroup2License, r.Groups, r.Licenses, broker); err != nil {
		return nil, err
	}
	if r.License2Gateway, err = repositories.NewAssociationRepository(models.KindLicense2Gateway, r.Licenses, r.Gateways, broker); err != nil {
		return nil, err
	}
	return r, nil
}

// ObjectRepositories returns the plain repositories of the set (the
// association repositories contribute their object halves).
func (r *Repositories) ObjectRepositories() []*repositories.ObjectRepository {
	return []*repositories.ObjectRepository{
		r.Artifacts, r.Groups, r.Licenses, r.Gateways, r.DeploymentVersions,
	}
}

func (r *Repositories) AssociationRepositories() []*repositories.AssociationRepository {
	return []*repositories.AssociationRepository{
		r.Artifact2Group, r.Group2License, r.License2Gateway,
	}
}

func newResolverService(r *Repositories) *ResolverService {
	return NewResolverService(
		r.Artifacts, r.Gateways, r.DeploymentVersions,
		r.Artifact2Group, r.Group2License, r.License2Gateway,
		models.BundleHelper{}, nil,
	)
}

func newDeploymentService(cfg *config.Config, r *Repositories) (*DeploymentService, error) {
	return NewDeploymentService(r.DeploymentVersions, cfg.MaximumNumberOfUsers)
}

func newStatefulGatewayService(lc fx.Lifecycle, r *Repositories, store *auditlog.Store, resolver *ResolverService, broker shared.PubSubBroker) *StatefulGatewayService {
	svc := NewStatefulGatewayService(r.Gateways, r.DeploymentVersions, store, resolver, broker)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return svc.Run(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return svc
}

func newAuditStore(broker shared.PubSubBroker) *auditlog.Store {
	return auditlog.NewStore(broker)
}

var ServiceModule = fx.Module("services",
	fx.Provide(NewRepositories),
	fx.Provide(newAuditStore),
	fx.Provide(newResolverService),
	fx.Provide(newDeploymentService),
	fx.Provide(newStatefulGatewayService),
)
