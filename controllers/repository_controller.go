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
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/provhub-dev/provhub/repositories"
	"github.com/provhub-dev/provhub/shared"
)

// RepositoryController exposes the versioned blob store over the wire
// protocol: checkout, commit, query. Payloads are opaque to the protocol.
type RepositoryController struct {
	store *repositories.BlobStore
}

func NewRepositoryController(store *repositories.BlobStore) *RepositoryController {
	return &RepositoryController{store: store}
}

func (c *RepositoryController) params(ctx shared.Context) (string, string, error) {
	customer := ctx.QueryParam("customer")
	name := ctx.QueryParam("name")
	if customer == "" || name == "" {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "customer and name are required")
	}
	return customer, name, nil
}

func (c *RepositoryController) Checkout(ctx shared.Context) error {
	customer, name, err := c.params(ctx)
	if err != nil {
		return err
	}
	version, err := strconv.ParseInt(ctx.QueryParam("version"), 10, 64)
	if err != nil {
		return ctx.String(http.StatusBadRequest, "invalid version")
	}
	blob, err := c.store.Checkout(customer, name, version)
	if err != nil {
		if errors.Is(err, repositories.ErrNoSuchVersion) {
			return ctx.String(http.StatusNotFound, err.Error())
		}
		return err
	}
	return ctx.Blob(http.StatusOK, "application/octet-stream", blob)
}

func (c *RepositoryController) Commit(ctx shared.Context) error {
	customer, name, err := c.params(ctx)
	if err != nil {
		return err
	}
	fromVersion, err := strconv.ParseInt(ctx.QueryParam("version"), 10, 64)
	if err != nil {
		return ctx.String(http.StatusBadRequest, "invalid version")
	}
	blob, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return err
	}
	version, err := c.store.Commit(customer, name, blob, fromVersion)
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return ctx.String(http.StatusConflict, err.Error())
		}
		return err
	}
	return ctx.String(http.StatusOK, strconv.FormatInt(version, 10))
}

func (c *RepositoryController) Query(ctx shared.Context) error {
	customer, name, err := c.params(ctx)
	if err != nil {
		return err
	}
	low, high := c.store.Range(customer, name)
	return ctx.String(http.StatusOK, fmt.Sprintf("%s,%s,%d-%d\n", customer, name, low, high))
}
