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

package services

import (
	"context"
	"log/slog"

	"github.com/provhub-dev/provhub/config"
	"github.com/provhub-dev/provhub/repositories"
	"github.com/provhub-dev/provhub/shared"
	"go.uber.org/fx"
)

func newBlobStore() *repositories.BlobStore {
	return repositories.NewBlobStore()
}

func newRemote(cfg *config.Config, store *repositories.BlobStore) repositories.RemoteRepository {
	if cfg.RemoteURL != "" {
		return repositories.NewHTTPRemote(cfg.RemoteURL, cfg.Customer, cfg.Name, nil)
	}
	return repositories.NewLocalRemote(store, cfg.Customer, cfg.Name)
}

func newRepositorySet(lc fx.Lifecycle, cfg *config.Config, remote repositories.RemoteRepository,
	broker shared.PubSubBroker, repos *Repositories, manager *repositories.SetManager) (*repositories.RepositorySet, error) {
	backup, err := repositories.NewBackupStore(cfg.StorageDir, cfg.Customer, cfg.Name)
	if err != nil {
		return nil, err
	}
	set, err := repositories.NewRepositorySet(cfg.Customer, cfg.Name, remote, backup, broker,
		repos.ObjectRepositories(), repos.AssociationRepositories())
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := manager.Login(set); err != nil {
				return err
			}
			// a fresh installation has no history yet, tolerate it
			if err := set.Checkout(ctx, false); err != nil {
				slog.Error("initial checkout failed", "err", err)
				return err
			}
			return nil
		},
		OnStop: func(context.Context) error {
			manager.Logout(set)
			return nil
		},
	})
	return set, nil
}

var SyncModule = fx.Module("sync",
	fx.Provide(newBlobStore),
	fx.Provide(newRemote),
	fx.Provide(repositories.NewSetManager),
	fx.Provide(newRepositorySet),
)
