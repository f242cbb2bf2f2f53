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

package services_test

import (
	"testing"

	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/repositories"
	"github.com/provhub-dev/provhub/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shopFixture struct {
	repos    *services.Repositories
	resolver *services.ResolverService
}

func newShopFixture(t *testing.T) *shopFixture {
	t.Helper()
	repos, err := services.NewRepositories(nil)
	require.NoError(t, err)
	resolver := services.NewResolverService(
		repos.Artifacts, repos.Gateways, repos.DeploymentVersions,
		repos.Artifact2Group, repos.Group2License, repos.License2Gateway,
		models.BundleHelper{}, nil,
	)
	return &shopFixture{repos: repos, resolver: resolver}
}

func (f *shopFixture) bundle(t *testing.T, url, symbolicName string) *models.RepositoryObject {
	t.Helper()
	obj, err := f.repos.Artifacts.Create(map[string]string{
		models.AttrURL:           url,
		models.AttrMimetype:      models.MimetypeBundle,
		models.AttrSymbolicName:  symbolicName,
		models.AttrBundleVersion: "1.0.0",
	}, nil)
	require.NoError(t, err)
	return obj
}

// wire connects artifact -> group -> license -> gateway with fresh
// intermediate objects.
func (f *shopFixture) wire(t *testing.T, artifact *models.RepositoryObject, gatewayID, suffix string) {
	t.Helper()
	group, err := f.repos.Groups.Create(map[string]string{models.AttrName: "group-" + suffix}, nil)
	require.NoError(t, err)
	license, err := f.repos.Licenses.Create(map[string]string{models.AttrName: "license-" + suffix}, nil)
	require.NoError(t, err)
	gateway, err := f.repos.Gateways.GetByID(models.ObjectID(models.KindGateway, map[string]string{models.AttrID: gatewayID}))
	if err != nil {
		gateway, err = f.repos.Gateways.Create(map[string]string{models.AttrID: gatewayID}, nil)
		require.NoError(t, err)
	}
	_, err = f.repos.Artifact2Group.Associate(artifact, group)
	require.NoError(t, err)
	_, err = f.repos.Group2License.Associate(group, license)
	require.NoError(t, err)
	_, err = f.repos.License2Gateway.Associate(license, gateway)
	require.NoError(t, err)
}

func TestResolve(t *testing.T) {
	t.Run("unknown gateway", func(t *testing.T) {
		f := newShopFixture(t)
		_, err := f.resolver.Resolve("nope", "1.0.0")
		assert.ErrorIs(t, err, services.ErrUnknownTarget)
	})

	t.Run("gateway without licenses resolves to nothing", func(t *testing.T) {
		f := newShopFixture(t)
		_, err := f.repos.Gateways.Create(map[string]string{models.AttrID: "gw-1"}, nil)
		require.NoError(t, err)

		result, err := f.resolver.Resolve("gw-1", "1.0.0")
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("licensed bundles carry their manifest directives", func(t *testing.T) {
		f := newShopFixture(t)
		b1 := f.bundle(t, "http://repo/b1.jar", "org.example.b1")
		f.wire(t, b1, "gw-1", "1")

		result, err := f.resolver.Resolve("gw-1", "1.0.0")
		require.NoError(t, err)
		require.Len(t, result, 1)
		assert.Equal(t, "http://repo/b1.jar", result[0].URL)
		assert.Equal(t, "org.example.b1", result[0].Directive(models.DirectiveSymbolicName))
		assert.Equal(t, "1.0.0", result[0].Directive(models.DirectiveVersion))
	})

	t.Run("same artifact through two paths is deployed once", func(t *testing.T) {
		f := newShopFixture(t)
		b1 := f.bundle(t, "http://repo/b1.jar", "org.example.b1")
		f.wire(t, b1, "gw-1", "1")
		f.wire(t, b1, "gw-1", "2")

		result, err := f.resolver.Resolve("gw-1", "1.0.0")
		require.NoError(t, err)
		assert.Len(t, result, 1)
	})
}

func TestResolveProcessors(t *testing.T) {
	configArtifact := func(t *testing.T, f *shopFixture) *models.RepositoryObject {
		obj, err := f.repos.Artifacts.Create(map[string]string{
			models.AttrURL:          "http://repo/settings.cfg",
			models.AttrMimetype:     "text/plain",
			models.AttrArtifactName: "settings.cfg",
			models.AttrProcessorPID: "org.example.configurator",
		}, nil)
		require.NoError(t, err)
		return obj
	}

	t.Run("missing processor fails resolution", func(t *testing.T) {
		f := newShopFixture(t)
		f.wire(t, configArtifact(t, f), "gw-1", "1")

		_, err := f.resolver.Resolve("gw-1", "1.0.0")
		assert.ErrorIs(t, err, services.ErrMissingProcessor)
	})

	t.Run("processor is pulled in from the shop and the artifact tagged", func(t *testing.T) {
		f := newShopFixture(t)
		f.wire(t, configArtifact(t, f), "gw-1", "1")

		// the processor bundle is registered in the shop but not licensed
		_, err := f.repos.Artifacts.Create(map[string]string{
			models.AttrURL:               "http://repo/configurator.jar",
			models.AttrMimetype:          models.MimetypeBundle,
			models.AttrSymbolicName:      "org.example.configurator.impl",
			models.AttrProvidesProcessor: "org.example.configurator",
		}, nil)
		require.NoError(t, err)

		result, err := f.resolver.Resolve("gw-1", "1.0.0")
		require.NoError(t, err)
		require.Len(t, result, 2)

		byURL := map[string]models.DeploymentArtifact{}
		for _, da := range result {
			byURL[da.URL] = da
		}
		processor := byURL["http://repo/configurator.jar"]
		assert.Equal(t, "true", processor.Directive(models.DirectiveIsCustomizer))

		processed := byURL["http://repo/settings.cfg"]
		assert.Equal(t, "org.example.configurator", processed.Directive(models.DirectiveProcessorPID))
		assert.Equal(t, "settings.cfg", processed.Directive(models.DirectiveResourceID))
	})

	t.Run("a licensed processor is not deployed twice", func(t *testing.T) {
		f := newShopFixture(t)
		f.wire(t, configArtifact(t, f), "gw-1", "1")

		processor, err := f.repos.Artifacts.Create(map[string]string{
			models.AttrURL:               "http://repo/configurator.jar",
			models.AttrMimetype:          models.MimetypeBundle,
			models.AttrSymbolicName:      "org.example.configurator.impl",
			models.AttrProvidesProcessor: "org.example.configurator",
		}, nil)
		require.NoError(t, err)
		f.wire(t, processor, "gw-1", "2")

		result, err := f.resolver.Resolve("gw-1", "1.0.0")
		require.NoError(t, err)
		assert.Len(t, result, 2)
	})
}

func TestNextVersion(t *testing.T) {
	f := newShopFixture(t)

	t.Run("first version is 1.0.0", func(t *testing.T) {
		assert.Equal(t, "1.0.0", f.resolver.NextVersion("gw-1"))
	})

	t.Run("the major is bumped, minor and micro reset", func(t *testing.T) {
		_, err := f.repos.DeploymentVersions.Create(map[string]string{
			models.AttrGatewayID: "gw-1",
			models.AttrVersion:   "2.5.9",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "3.0.0", f.resolver.NextVersion("gw-1"))
	})

	t.Run("unparsable predecessors are skipped", func(t *testing.T) {
		_, err := f.repos.DeploymentVersions.Create(map[string]string{
			models.AttrGatewayID: "gw-2",
			models.AttrVersion:   "not-a-version",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", f.resolver.NextVersion("gw-2"))
	})
}

func TestCreateDeploymentVersion(t *testing.T) {
	f := newShopFixture(t)
	b1 := f.bundle(t, "http://repo/b1.jar", "org.example.b1")
	f.wire(t, b1, "gw-1", "1")

	dv, err := f.resolver.CreateDeploymentVersion("gw-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", dv.Attribute(models.AttrVersion))
	assert.Equal(t, "gw-1", dv.Attribute(models.AttrGatewayID))
	require.Len(t, dv.DeploymentArtifacts(), 1)
	assert.Equal(t, "http://repo/b1.jar", dv.DeploymentArtifacts()[0].URL)

	t.Run("each approval bumps the major", func(t *testing.T) {
		dv2, err := f.resolver.CreateDeploymentVersion("gw-1")
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", dv2.Attribute(models.AttrVersion))
		assert.Equal(t, 2, len(mustVersions(t, f, "gw-1")))
	})

	t.Run("resolution failure creates nothing", func(t *testing.T) {
		before := f.repos.DeploymentVersions.Len()
		_, err := f.resolver.CreateDeploymentVersion("gw-unknown")
		assert.ErrorIs(t, err, services.ErrUnknownTarget)
		assert.Equal(t, before, f.repos.DeploymentVersions.Len())
	})

	t.Run("a version label exists at most once per gateway", func(t *testing.T) {
		_, err := f.repos.DeploymentVersions.Create(map[string]string{
			models.AttrGatewayID: "gw-1",
			models.AttrVersion:   "1.0.0",
		}, nil)
		assert.ErrorIs(t, err, repositories.ErrDuplicateObject)
	})
}

func mustVersions(t *testing.T, f *shopFixture, gatewayID string) []*models.RepositoryObject {
	t.Helper()
	objs, err := f.repos.DeploymentVersions.GetFilter("(" + models.AttrGatewayID + "=" + gatewayID + ")")
	require.NoError(t, err)
	return objs
}

func TestRepositoriesWiring(t *testing.T) {
	repos, err := services.NewRepositories(nil)
	require.NoError(t, err)
	assert.Len(t, repos.ObjectRepositories(), 5)
	assert.Len(t, repos.AssociationRepositories(), 3)

	kinds := map[models.Kind]struct{}{}
	for _, repo := range repos.ObjectRepositories() {
		kinds[repo.Kind()] = struct{}{}
	}
	for _, repo := range repos.AssociationRepositories() {
		kinds[repo.Kind()] = struct{}{}
	}
	assert.Len(t, kinds, 8)

	_, err = repositories.NewRepositorySet("acme", "shop",
		repositories.NewLocalRemote(repositories.NewBlobStore(), "acme", "shop"), nil, nil,
		repos.ObjectRepositories(), repos.AssociationRepositories())
	assert.NoError(t, err)
}
