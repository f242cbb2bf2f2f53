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

package controllers

import (
	"errors"
	"net/http"

	"github.com/provhub-dev/provhub/auditlog"
	"github.com/provhub-dev/provhub/repositories"
	"github.com/provhub-dev/provhub/services"
	"github.com/provhub-dev/provhub/shared"
)

// TargetController exposes the reconciler view of the fleet plus the
// audit log exchange the gateway agents talk to.
type TargetController struct {
	gatewayService *services.StatefulGatewayService
	auditStore     *auditlog.Store
}

func NewTargetController(gatewayService *services.StatefulGatewayService, auditStore *auditlog.Store) *TargetController {
	return &TargetController{gatewayService: gatewayService, auditStore: auditStore}
}

func (c *TargetController) List(ctx shared.Context) error {
	return ctx.JSON(http.StatusOK, c.gatewayService.List())
}

func (c *TargetController) Read(ctx shared.Context) error {
	gatewayID := shared.SanitizeParam(ctx.Param("targetID"))
	view, ok := c.gatewayService.View(gatewayID)
	if !ok {
		return ctx.String(http.StatusNotFound, "unknown target")
	}
	return ctx.JSON(http.StatusOK, view)
}

func (c *TargetController) Register(ctx shared.Context) error {
	gatewayID := shared.SanitizeParam(ctx.Param("targetID"))
	if err := c.gatewayService.Register(gatewayID); err != nil {
		if errors.Is(err, repositories.ErrDuplicateObject) {
			return ctx.String(http.StatusConflict, "target is already registered")
		}
		return err
	}
	return ctx.NoContent(http.StatusCreated)
}

func (c *TargetController) Approve(ctx shared.Context) error {
	gatewayID := shared.SanitizeParam(ctx.Param("targetID"))
	version, err := c.gatewayService.Approve(gatewayID)
	if err != nil {
		if errors.Is(err, services.ErrUnknownTarget) {
			return ctx.String(http.StatusNotFound, "unknown target")
		}
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]string{"version": version})
}

// PutAuditEvents ingests a batch of events uploaded by an agent. Events
// already present are silently ignored, the upload is idempotent.
func (c *TargetController) PutAuditEvents(ctx shared.Context) error {
	var events []auditlog.LogEvent
	if err := ctx.Bind(&events); err != nil {
		return ctx.String(http.StatusBadRequest, "invalid event payload")
	}
	c.auditStore.Put(events)
	return ctx.NoContent(http.StatusNoContent)
}

func (c *TargetController) GetAuditDescriptors(ctx shared.Context) error {
	gatewayID := shared.SanitizeParam(ctx.Param("targetID"))
	return ctx.JSON(http.StatusOK, c.auditStore.GetDescriptors(gatewayID))
}

// QueryAuditEvents returns every stored event the caller has not seen
// yet, given the descriptors it already holds.
func (c *TargetController) QueryAuditEvents(ctx shared.Context) error {
	gatewayID := shared.SanitizeParam(ctx.Param("targetID"))
	var seen []auditlog.LogDescriptor
	if err := ctx.Bind(&seen); err != nil {
		return ctx.String(http.StatusBadRequest, "invalid descriptor payload")
	}
	return ctx.JSON(http.StatusOK, c.gatewayService.GetAuditEvents(gatewayID, seen))
}
