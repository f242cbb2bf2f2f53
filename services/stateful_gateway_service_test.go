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

	"github.com/provhub-dev/provhub/auditlog"
	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fleetFixture struct {
	*shopFixture
	auditStore *auditlog.Store
	service    *services.StatefulGatewayService
}

func newFleetFixture(t *testing.T) *fleetFixture {
	t.Helper()
	shop := newShopFixture(t)
	auditStore := auditlog.NewStore(nil)
	service := services.NewStatefulGatewayService(
		shop.repos.Gateways, shop.repos.DeploymentVersions, auditStore, shop.resolver, nil,
	)
	return &fleetFixture{shopFixture: shop, auditStore: auditStore, service: service}
}

func TestRegister(t *testing.T) {
	f := newFleetFixture(t)

	require.NoError(t, f.service.Register("gw-1"))

	view, ok := f.service.View("gw-1")
	require.True(t, ok)
	assert.Equal(t, services.Registered, view.RegistrationState)
	// nothing licensed, nothing deployed: not drifted
	assert.Equal(t, services.StoreStateApproved, view.StoreState)
	assert.Equal(t, services.ProvisioningIdle, view.ProvisioningState)

	t.Run("double registration fails", func(t *testing.T) {
		assert.Error(t, f.service.Register("gw-1"))
	})
}

func TestAuditOnlyTarget(t *testing.T) {
	f := newFleetFixture(t)

	f.auditStore.Put([]auditlog.LogEvent{
		{TargetID: "gw-ghost", LogID: 1, ID: 1, Time: 100, Type: auditlog.EventInstall},
	})
	f.service.HandleAuditLogChange("gw-ghost")

	view, ok := f.service.View("gw-ghost")
	require.True(t, ok)
	assert.Equal(t, services.Unregistered, view.RegistrationState)
	assert.Equal(t, services.StoreStateNew, view.StoreState)
	assert.Equal(t, services.ProvisioningInProgress, view.ProvisioningState)

	t.Run("approval requires registration", func(t *testing.T) {
		_, err := f.service.Approve("gw-ghost")
		assert.ErrorIs(t, err, services.ErrUnknownTarget)
	})

	t.Run("registration upgrades the target", func(t *testing.T) {
		require.NoError(t, f.service.Register("gw-ghost"))
		view, ok := f.service.View("gw-ghost")
		require.True(t, ok)
		assert.Equal(t, services.Registered, view.RegistrationState)
	})
}

func TestDriftAndApprove(t *testing.T) {
	f := newFleetFixture(t)
	require.NoError(t, f.service.Register("gw-1"))

	b1 := f.bundle(t, "http://repo/b1.jar", "org.example.b1")
	f.wire(t, b1, "gw-1", "1")
	f.service.HandleGatewayChange("gw-1")

	view, ok := f.service.View("gw-1")
	require.True(t, ok)
	assert.Equal(t, services.StoreStateUnapproved, view.StoreState, "new licensed artifact means drift")

	version, err := f.service.Approve("gw-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	view, ok = f.service.View("gw-1")
	require.True(t, ok)
	assert.Equal(t, services.StoreStateApproved, view.StoreState)
	assert.Equal(t, "1.0.0", view.LatestVersion)

	t.Run("a further artifact drifts the target again", func(t *testing.T) {
		b2 := f.bundle(t, "http://repo/b2.jar", "org.example.b2")
		f.wire(t, b2, "gw-1", "2")
		f.service.DetermineStatusAll()

		view, ok := f.service.View("gw-1")
		require.True(t, ok)
		assert.Equal(t, services.StoreStateUnapproved, view.StoreState)
	})
}

func TestAutoApprove(t *testing.T) {
	f := newFleetFixture(t)
	_, err := f.repos.Gateways.Create(map[string]string{models.AttrID: "gw-auto"},
		map[string]string{models.TagAutoApprove: "true"})
	require.NoError(t, err)

	b1 := f.bundle(t, "http://repo/b1.jar", "org.example.b1")
	f.wire(t, b1, "gw-auto", "1")
	f.service.HandleGatewayChange("gw-auto")

	view, ok := f.service.View("gw-auto")
	require.True(t, ok)
	assert.True(t, view.AutoApprove)
	assert.Equal(t, services.StoreStateApproved, view.StoreState)
	assert.Equal(t, "1.0.0", view.LatestVersion)
}

func TestProvisioningStateFollowsAuditLog(t *testing.T) {
	f := newFleetFixture(t)
	require.NoError(t, f.service.Register("gw-1"))

	f.auditStore.Put([]auditlog.LogEvent{
		{TargetID: "gw-1", LogID: 1, ID: 1, Time: 100, Type: auditlog.EventInstall},
	})
	f.service.HandleAuditLogChange("gw-1")
	view, _ := f.service.View("gw-1")
	assert.Equal(t, services.ProvisioningInProgress, view.ProvisioningState)

	f.auditStore.Put([]auditlog.LogEvent{
		{TargetID: "gw-1", LogID: 1, ID: 2, Time: 200, Type: auditlog.EventFailure},
	})
	f.service.HandleAuditLogChange("gw-1")
	view, _ = f.service.View("gw-1")
	assert.Equal(t, services.ProvisioningFailed, view.ProvisioningState)

	f.auditStore.Put([]auditlog.LogEvent{
		{TargetID: "gw-1", LogID: 1, ID: 3, Time: 300, Type: auditlog.EventComplete},
	})
	f.service.HandleAuditLogChange("gw-1")
	view, _ = f.service.View("gw-1")
	assert.Equal(t, services.ProvisioningOK, view.ProvisioningState)
}

func TestPopulate(t *testing.T) {
	f := newFleetFixture(t)

	// sources filled behind the service's back
	_, err := f.repos.Gateways.Create(map[string]string{models.AttrID: "gw-1"}, nil)
	require.NoError(t, err)
	_, err = f.repos.DeploymentVersions.Create(map[string]string{
		models.AttrGatewayID: "gw-2",
		models.AttrVersion:   "1.0.0",
	}, nil)
	require.NoError(t, err)
	f.auditStore.Put([]auditlog.LogEvent{{TargetID: "gw-3", LogID: 1, ID: 1, Type: auditlog.EventInstall}})

	f.service.Populate()

	list := f.service.List()
	require.Len(t, list, 3)
	assert.Equal(t, "gw-1", list[0].ID)
	assert.Equal(t, "gw-2", list[1].ID)
	assert.Equal(t, "gw-3", list[2].ID)
	assert.Equal(t, services.Registered, list[0].RegistrationState)
	assert.Equal(t, services.Unregistered, list[1].RegistrationState)

	t.Run("targets no source mentions anymore are dropped", func(t *testing.T) {
		gw, err := f.repos.Gateways.GetByID(models.ObjectID(models.KindGateway, map[string]string{models.AttrID: "gw-1"}))
		require.NoError(t, err)
		require.NoError(t, f.repos.Gateways.Remove(gw))

		f.service.Populate()
		_, ok := f.service.View("gw-1")
		assert.False(t, ok)
	})
}

func TestGetAuditEvents(t *testing.T) {
	f := newFleetFixture(t)
	f.auditStore.Put([]auditlog.LogEvent{
		{TargetID: "gw-1", LogID: 1, ID: 1, Time: 100, Type: "a"},
		{TargetID: "gw-1", LogID: 1, ID: 2, Time: 200, Type: "b"},
		{TargetID: "gw-1", LogID: 2, ID: 1, Time: 150, Type: "c"},
		{TargetID: "gw-2", LogID: 1, ID: 1, Time: 50, Type: "other-target"},
	})

	t.Run("nothing seen returns everything for the target", func(t *testing.T) {
		events := f.service.GetAuditEvents("gw-1", nil)
		require.Len(t, events, 3)
		assert.Equal(t, "a", events[0].Type)
		assert.Equal(t, "b", events[1].Type)
		assert.Equal(t, "c", events[2].Type)
	})

	t.Run("seen ranges are subtracted per log", func(t *testing.T) {
		seen := auditlog.NewSortedRangeSet()
		seen.Add(1)
		events := f.service.GetAuditEvents("gw-1", []auditlog.LogDescriptor{
			{TargetID: "gw-1", LogID: 1, Ranges: seen},
		})
		require.Len(t, events, 2)
		assert.Equal(t, "b", events[0].Type)
		assert.Equal(t, "c", events[1].Type)
	})

	t.Run("ids only the caller knows do not produce events", func(t *testing.T) {
		seen := auditlog.NewSortedRangeSet()
		for id := int64(1); id <= 100; id++ {
			seen.Add(id)
		}
		events := f.service.GetAuditEvents("gw-1", []auditlog.LogDescriptor{
			{TargetID: "gw-1", LogID: 1, Ranges: seen},
			{TargetID: "gw-1", LogID: 2, Ranges: seen},
		})
		assert.Empty(t, events)
	})
}
