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

package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/provhub-dev/provhub/shared"
)

// MemoryBroker implements shared.PubSubBroker with in-process channels.
// Delivery is asynchronous; a slow subscriber drops messages rather than
// blocking publishers. Subscribers that need lossless delivery must
// re-synchronize from repository state, which every provhub subscriber
// does anyway on the RepositoryRefresh channel.
type MemoryBroker struct {
	subscribers  map[shared.PubSubChannel][]chan map[string]any
	subscribeMux sync.RWMutex
	ID           string
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subscribers: make(map[shared.PubSubChannel][]chan map[string]any),
		ID:          uuid.NewString(),
	}
}

func BrokerFactory() (shared.PubSubBroker, error) {
	return NewMemoryBroker(), nil
}

func (b *MemoryBroker) Publish(ctx context.Context, message shared.PubSubMessage) error {
	b.subscribeMux.RLock()
	defer b.subscribeMux.RUnlock()

	for _, ch := range b.subscribers[message.GetChannel()] {
		select {
		case ch <- message.GetPayload():
		default:
			slog.Warn("dropping pubsub message, subscriber is not keeping up",
				"channel", message.GetChannel())
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(topic shared.PubSubChannel) (<-chan map[string]any, error) {
	ch := make(chan map[string]any, 64)

	b.subscribeMux.Lock()
	defer b.subscribeMux.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)

	return ch, nil
}

// Unsubscribe removes the channel from the topic and closes it. Publishers
// hold the same lock, so no send can race the close.
func (b *MemoryBroker) Unsubscribe(topic shared.PubSubChannel, ch <-chan map[string]any) {
	b.subscribeMux.Lock()
	defer b.subscribeMux.Unlock()

	subs := b.subscribers[topic]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}
