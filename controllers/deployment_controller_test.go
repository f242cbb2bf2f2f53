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

package controllers_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/provhub-dev/provhub/controllers"
	"github.com/provhub-dev/provhub/middlewares"
	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/repositories"
	"github.com/provhub-dev/provhub/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeploymentServer(t *testing.T, maxUsers int) (*httptest.Server, *repositories.ObjectRepository) {
	t.Helper()
	repo, err := repositories.NewObjectRepository(models.KindDeploymentVersion, nil)
	require.NoError(t, err)
	svc, err := services.NewDeploymentService(repo, maxUsers)
	require.NoError(t, err)
	controller := controllers.NewDeploymentController(svc)

	e := echo.New()
	group := e.Group("/deployment/:gatewayID", middlewares.Overload())
	group.GET("/versions/", controller.ListVersions)
	group.GET("/versions/:version/", controller.GetPackage)

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server, repo
}

func seedVersion(t *testing.T, repo *repositories.ObjectRepository, gatewayID, version string) {
	t.Helper()
	obj, err := repo.Create(map[string]string{
		models.AttrGatewayID: gatewayID,
		models.AttrVersion:   version,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, obj.SetDeploymentArtifacts([]models.DeploymentArtifact{
		{URL: "http://repo/b1.jar", Directives: map[string]string{
			models.DirectiveSymbolicName: "org.example.b1",
		}},
	}))
}

func TestListVersionsEndpoint(t *testing.T) {
	server, repo := newDeploymentServer(t, 0)
	seedVersion(t, repo, "gw-1", "1.0.0")
	seedVersion(t, repo, "gw-1", "2.0.0")

	resp, err := server.Client().Get(server.URL + "/deployment/gw-1/versions/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var versions []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&versions))
	assert.Equal(t, []string{"1.0.0", "2.0.0"}, versions)
}

func TestGetPackageEndpoint(t *testing.T) {
	server, repo := newDeploymentServer(t, 0)
	seedVersion(t, repo, "gw-1", "1.0.0")

	t.Run("full download", func(t *testing.T) {
		resp, err := server.Client().Get(server.URL + "/deployment/gw-1/versions/1.0.0/")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "http://repo/b1.jar")
	})

	t.Run("range requests resume downloads", func(t *testing.T) {
		full, err := server.Client().Get(server.URL + "/deployment/gw-1/versions/1.0.0/")
		require.NoError(t, err)
		fullBody, err := io.ReadAll(full.Body)
		full.Body.Close()
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, server.URL+"/deployment/gw-1/versions/1.0.0/", nil)
		require.NoError(t, err)
		req.Header.Set("Range", "bytes=10-")

		resp, err := server.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusPartialContent, resp.StatusCode)

		partial, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, fullBody[10:], partial)
	})

	t.Run("unknown version", func(t *testing.T) {
		resp, err := server.Client().Get(server.URL + "/deployment/gw-1/versions/9.0.0/")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestOverloadMiddleware(t *testing.T) {
	e := echo.New()
	group := e.Group("/deployment/:gatewayID", middlewares.Overload())
	group.GET("/versions/:version/", func(c echo.Context) error {
		return &services.OverloadedError{Backoff: services.BackoffTimePerUser}
	})

	server := httptest.NewServer(e)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/deployment/gw-1/versions/1.0.0/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))
}
