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

package repositories_test

import (
	"strings"
	"testing"

	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type artifact2GroupFixture struct {
	artifacts *repositories.ObjectRepository
	groups    *repositories.ObjectRepository
	assocs    *repositories.AssociationRepository
}

func newArtifact2GroupFixture(t *testing.T) artifact2GroupFixture {
	t.Helper()
	artifacts, err := repositories.NewObjectRepository(models.KindArtifact, nil)
	require.NoError(t, err)
	groups, err := repositories.NewObjectRepository(models.KindGroup, nil)
	require.NoError(t, err)
	assocs, err := repositories.NewAssociationRepository(models.KindArtifact2Group, artifacts, groups, nil)
	require.NoError(t, err)
	return artifact2GroupFixture{artifacts: artifacts, groups: groups, assocs: assocs}
}

func (f artifact2GroupFixture) artifact(t *testing.T, url string) *models.RepositoryObject {
	t.Helper()
	obj, err := f.artifacts.Create(map[string]string{models.AttrURL: url}, nil)
	require.NoError(t, err)
	return obj
}

func (f artifact2GroupFixture) group(t *testing.T, name string) *models.RepositoryObject {
	t.Helper()
	obj, err := f.groups.Create(map[string]string{models.AttrName: name}, nil)
	require.NoError(t, err)
	return obj
}

func TestNewAssociationRepository(t *testing.T) {
	f := newArtifact2GroupFixture(t)

	t.Run("non association kind is rejected", func(t *testing.T) {
		_, err := repositories.NewAssociationRepository(models.KindArtifact, f.artifacts, f.groups, nil)
		assert.Error(t, err)
	})

	t.Run("mismatching endpoint repositories are rejected", func(t *testing.T) {
		_, err := repositories.NewAssociationRepository(models.KindArtifact2Group, f.groups, f.artifacts, nil)
		assert.Error(t, err)
	})
}

func TestAssociate(t *testing.T) {
	f := newArtifact2GroupFixture(t)
	b1 := f.artifact(t, "http://repo/b1.jar")
	b2 := f.artifact(t, "http://repo/b2.jar")
	g1 := f.group(t, "group-1")

	assoc, err := f.assocs.Associate(b1, g1)
	require.NoError(t, err)
	assert.Equal(t, models.KindArtifact2Group, assoc.Kind)

	assert.True(t, f.assocs.IsAssociated(b1, g1))
	assert.False(t, f.assocs.IsAssociated(b2, g1))

	rights := f.assocs.AssociatedRight(b1)
	require.Len(t, rights, 1)
	assert.Same(t, g1, rights[0])

	lefts := f.assocs.AssociatedLeft(g1)
	require.Len(t, lefts, 1)
	assert.Same(t, b1, lefts[0])
}

func TestAssociationIdentity(t *testing.T) {
	f := newArtifact2GroupFixture(t)
	f.artifact(t, "http://repo/b1.jar")
	f.group(t, "group-1")

	first, err := f.assocs.CreateAssociation("(url=*)", "(name=group-1)", 1, 1, nil)
	require.NoError(t, err)

	t.Run("same filters and cardinalities collide", func(t *testing.T) {
		_, err := f.assocs.CreateAssociation("(url=*)", "(name=group-1)", 1, 1, nil)
		assert.ErrorIs(t, err, repositories.ErrDuplicateObject)
	})

	t.Run("cardinalities are part of the identity", func(t *testing.T) {
		wider, err := f.assocs.CreateAssociation("(url=*)", "(name=group-1)", 5, 5, nil)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, wider.ID)
	})
}

func TestCreateAssociationCardinality(t *testing.T) {
	f := newArtifact2GroupFixture(t)
	f.artifact(t, "http://repo/a.jar")
	f.artifact(t, "http://repo/b.jar")
	f.artifact(t, "http://repo/c.jar")
	g1 := f.group(t, "group-1")

	t.Run("more matches than cardinality without a comparator fails", func(t *testing.T) {
		_, err := f.assocs.CreateAssociation("(url=http://repo/*)", "(name=group-1)", 2, 1, nil)
		assert.ErrorIs(t, err, repositories.ErrMissingComparator)
	})

	t.Run("comparator picks the capped matches", func(t *testing.T) {
		byURL := func(a, b *models.RepositoryObject) int {
			return strings.Compare(a.Attribute(models.AttrURL), b.Attribute(models.AttrURL))
		}
		_, err := f.assocs.CreateAssociation("(url=http://repo/*)", "(name=group-1)", 2, 1, byURL)
		require.NoError(t, err)

		lefts := f.assocs.AssociatedLeft(g1)
		urls := make([]string, 0, len(lefts))
		for _, obj := range lefts {
			urls = append(urls, obj.Attribute(models.AttrURL))
		}
		assert.ElementsMatch(t, []string{"http://repo/a.jar", "http://repo/b.jar"}, urls)
	})

	t.Run("matches within the cardinality need no comparator", func(t *testing.T) {
		g2 := f.group(t, "group-2")
		_, err := f.assocs.CreateAssociation("(url=http://repo/*)", "(name=group-2)", 3, 1, nil)
		require.NoError(t, err)
		assert.Len(t, f.assocs.AssociatedLeft(g2), 3)
	})
}

func TestRemoveAssociation(t *testing.T) {
	f := newArtifact2GroupFixture(t)
	b1 := f.artifact(t, "http://repo/b1.jar")
	g1 := f.group(t, "group-1")

	assoc, err := f.assocs.Associate(b1, g1)
	require.NoError(t, err)

	require.NoError(t, f.assocs.RemoveAssociation(assoc))
	assert.False(t, f.assocs.IsAssociated(b1, g1))
	assert.Empty(t, f.assocs.AssociatedRight(b1))
}

func TestRemovedEndpointIsSkipped(t *testing.T) {
	f := newArtifact2GroupFixture(t)
	b1 := f.artifact(t, "http://repo/b1.jar")
	g1 := f.group(t, "group-1")

	_, err := f.assocs.Associate(b1, g1)
	require.NoError(t, err)

	require.NoError(t, f.groups.Remove(g1))
	assert.Empty(t, f.assocs.AssociatedRight(b1))
}

func TestRebuild(t *testing.T) {
	f := newArtifact2GroupFixture(t)
	b1 := f.artifact(t, "http://repo/b1.jar")
	g1 := f.group(t, "group-1")

	_, err := f.assocs.CreateAssociation("(url=*)", "(name=group-1)", 10, 1, nil)
	require.NoError(t, err)
	require.True(t, f.assocs.IsAssociated(b1, g1))

	// a later artifact does not join until the index is rebuilt
	b2 := f.artifact(t, "http://repo/b2.jar")
	assert.False(t, f.assocs.IsAssociated(b2, g1))

	require.NoError(t, f.assocs.Rebuild())
	assert.True(t, f.assocs.IsAssociated(b1, g1))
	assert.True(t, f.assocs.IsAssociated(b2, g1))
}

func TestEndpointFilter(t *testing.T) {
	f := newArtifact2GroupFixture(t)

	t.Run("single defining key", func(t *testing.T) {
		b := f.artifact(t, "http://repo/we(i)rd*.jar")
		assert.Equal(t, `(url=http://repo/we\(i\)rd\*.jar)`, repositories.EndpointFilter(b))
	})

	t.Run("composite defining key", func(t *testing.T) {
		dv, err := models.NewRepositoryObject(models.KindDeploymentVersion, map[string]string{
			models.AttrGatewayID: "gw-1",
			models.AttrVersion:   "1.0.0",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "(&(gatewayID=gw-1)(version=1.0.0))", repositories.EndpointFilter(dv))
	})
}
