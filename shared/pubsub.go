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

package shared

import "context"

type PubSubChannel string

const (
	// GatewayChange fires when a gateway object is created, mutated or removed.
	GatewayChange PubSubChannel = "gatewayChange"
	// DeploymentVersionChange fires when a deployment version is created or removed.
	DeploymentVersionChange PubSubChannel = "deploymentVersionChange"
	// AuditLogChange fires when new audit events for a target arrive.
	AuditLogChange PubSubChannel = "auditLogChange"
	// RepositoryRefresh fires after a login, checkout or revert replaced
	// repository contents wholesale.
	RepositoryRefresh PubSubChannel = "repositoryRefresh"
	// ShopChange is the catch-all for artifact, group, license and association
	// changes. Any shop-level change can affect any target's required version,
	// so subscribers re-evaluate everything.
	ShopChange PubSubChannel = "shopChange"
)

type PubSubMessage interface {
	GetChannel() PubSubChannel
	GetPayload() map[string]any
}

type PubSubBroker interface {
	Publish(ctx context.Context, message PubSubMessage) error
	Subscribe(topic PubSubChannel) (<-chan map[string]any, error)
	// Unsubscribe releases a channel obtained from Subscribe and closes it.
	Unsubscribe(topic PubSubChannel, ch <-chan map[string]any)
}

type SimpleMessage struct {
	Channel PubSubChannel
	Payload map[string]any
}

func (m SimpleMessage) GetChannel() PubSubChannel {
	return m.Channel
}

func (m SimpleMessage) GetPayload() map[string]any {
	return m.Payload
}

// NewSimplePubSubMessage creates a new SimpleMessage instance.
func NewSimplePubSubMessage(channel PubSubChannel, payload map[string]any) *SimpleMessage {
	return &SimpleMessage{
		Channel: channel,
		Payload: payload,
	}
}
