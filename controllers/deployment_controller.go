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
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/provhub-dev/provhub/repositories"
	"github.com/provhub-dev/provhub/services"
	"github.com/provhub-dev/provhub/shared"
)

// DeploymentController serves version lists and deployment packages to
// gateway agents.
type DeploymentController struct {
	deploymentService *services.DeploymentService
}

func NewDeploymentController(deploymentService *services.DeploymentService) *DeploymentController {
	return &DeploymentController{deploymentService: deploymentService}
}

func (c *DeploymentController) ListVersions(ctx shared.Context) error {
	gatewayID := shared.SanitizeParam(ctx.Param("gatewayID"))
	versions, err := c.deploymentService.ListVersions(gatewayID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ctx.String(http.StatusNotFound, "unknown gateway")
		}
		return err
	}
	return ctx.JSON(http.StatusOK, versions)
}

func (c *DeploymentController) GetPackage(ctx shared.Context) error {
	gatewayID := shared.SanitizeParam(ctx.Param("gatewayID"))
	version := shared.SanitizeParam(ctx.Param("version"))

	data, err := c.deploymentService.GetBundleData(gatewayID, version)
	if err != nil {
		var overloaded *services.OverloadedError
		if errors.As(err, &overloaded) {
			return err // handled by the overload middleware
		}
		if errors.Is(err, repositories.ErrNotFound) {
			return ctx.String(http.StatusNotFound, "no such deployment version")
		}
		return err
	}

	// ServeContent gives us single-range request support for free, which
	// agents use to resume interrupted downloads.
	http.ServeContent(ctx.Response(), ctx.Request(), gatewayID+"-"+version+".json", time.Time{}, bytes.NewReader(data))
	return nil
}
