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

package middlewares

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/provhub-dev/provhub/services"
)

// Overload maps the admission-control signal to HTTP 503 with a
// Retry-After header so agents know how long to back off.
func Overload() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			var overloaded *services.OverloadedError
			if errors.As(err, &overloaded) {
				c.Response().Header().Set("Retry-After", strconv.Itoa(overloaded.BackoffSeconds()))
				return c.String(http.StatusServiceUnavailable, "server overloaded, retry later")
			}
			return err
		}
	}
}
