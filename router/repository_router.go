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

// RepositoryRouter mounts the checkout/commit/query wire protocol at the
// server root, matching what remote clients expect.
type RepositoryRouter struct {
	*echo.Group
}

func NewRepositoryRouter(
	e *echo.Echo,
	repositoryController *controllers.RepositoryController,
) RepositoryRouter {
	repositoryRouter := e.Group("/repository")

	repositoryRouter.GET("/checkout", repositoryController.Checkout)
	repositoryRouter.POST("/commit", repositoryController.Commit)
	repositoryRouter.GET("/query", repositoryController.Query)

	return RepositoryRouter{Group: repositoryRouter}
}
