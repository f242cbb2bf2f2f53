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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/provhub-dev/provhub/config"
	"github.com/provhub-dev/provhub/controllers"
	"github.com/provhub-dev/provhub/internal/echohttp"
	"github.com/provhub-dev/provhub/pubsub"
	"github.com/provhub-dev/provhub/repositories"
	"github.com/provhub-dev/provhub/router"
	"github.com/provhub-dev/provhub/services"
	"github.com/provhub-dev/provhub/shared"
	"go.uber.org/fx"
)

func main() {
	shared.LoadConfig() // nolint: errcheck
	shared.InitLogger()

	fx.New(
		fx.Provide(config.FromEnv),
		fx.Provide(pubsub.BrokerFactory),
		fx.Provide(echohttp.Server),
		services.ServiceModule,
		services.SyncModule,
		controllers.ControllerModule,
		router.RouterModule,

		// we need to invoke all routers to register their routes
		fx.Invoke(func(DeploymentRouter router.DeploymentRouter) {}),
		fx.Invoke(func(RepositoryRouter router.RepositoryRouter) {}),
		fx.Invoke(func(TargetRouter router.TargetRouter) {}),
		// force the repository set so its login/checkout lifecycle runs
		fx.Invoke(func(set *repositories.RepositorySet) {}),
		fx.Invoke(startServer),
	).Run()
}

func startServer(lc fx.Lifecycle, cfg *config.Config, e *echo.Echo) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
					slog.Error("failed to start server", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}
