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

package router

import (
	"github.com/labstack/echo/v4"
	"github.com/provhub-dev/provhub/controllers"
)

type TargetRouter struct {
	*echo.Group
}

func NewTargetRouter(
	apiV1Router APIV1Router,
	targetController *controllers.TargetController,
) TargetRouter {
	targetRouter := apiV1Router.Group.Group("/targets")

	targetRouter.GET("/", targetController.List)
	targetRouter.GET("/:targetID/", targetController.Read)
	targetRouter.POST("/:targetID/register/", targetController.Register)
	targetRouter.POST("/:targetID/approve/", targetController.Approve)

	targetRouter.POST("/auditlog/", targetController.PutAuditEvents)
	targetRouter.GET("/:targetID/auditlog/descriptors/", targetController.GetAuditDescriptors)
	targetRouter.POST("/:targetID/auditlog/query/", targetController.QueryAuditEvents)

	return TargetRouter{Group: targetRouter}
}
