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

package auditlog

import (
	"context"
	"sort"
	"sync"

	"github.com/provhub-dev/provhub/shared"
	"github.com/provhub-dev/provhub/utils"
)

// Event types the reconciler cares about. Targets report additional types;
// unknown types are stored and served untouched.
const (
	EventInstall  = "install"
	EventComplete = "complete"
	EventFailure  = "failure"
)

// LogEvent is one audit record reported by a target. IDs increase per
// (target, log) but may arrive with gaps.
type LogEvent struct {
	TargetID   string            `json:"targetID"`
	LogID      int64             `json:"logID"`
	ID         int64             `json:"id"`
	Time       int64             `json:"time"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// LogDescriptor identifies which event ranges exist (or have been seen)
// for one (target, log) pair.
type LogDescriptor struct {
	TargetID string          `json:"targetID"`
	LogID    int64           `json:"logID"`
	Ranges   *SortedRangeSet `json:"ranges"`
}

// Store holds audit events per target and log in memory.
type Store struct {
	mu     sync.Mutex
	events map[string]map[int64]map[int64]LogEvent
	broker shared.PubSubBroker
}

func NewStore(broker shared.PubSubBroker) *Store {
	return &Store{
		events: make(map[string]map[int64]map[int64]LogEvent),
		broker: broker,
	}
}

// Put stores reported events, ignoring duplicates by (target, log, id), and
// fires one AuditLogChange per affected target.
func (s *Store) Put(events []LogEvent) {
	touched := map[string]struct{}{}

	s.mu.Lock()
	for _, ev := range events {
		logs := s.events[ev.TargetID]
		if logs == nil {
			logs = make(map[int64]map[int64]LogEvent)
			s.events[ev.TargetID] = logs
		}
		byID := logs[ev.LogID]
		if byID == nil {
			byID = make(map[int64]LogEvent)
			logs[ev.LogID] = byID
		}
		if _, ok := byID[ev.ID]; ok {
			continue
		}
		byID[ev.ID] = ev
		touched[ev.TargetID] = struct{}{}
	}
	s.mu.Unlock()

	for targetID := range touched {
		s.publish(targetID)
	}
}

// Targets lists all target IDs that ever reported audit events.
func (s *Store) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := utils.Keys(s.events)
	sort.Strings(res)
	return res
}

// GetDescriptors returns one descriptor per log of the target, each with
// the full range set of stored event IDs.
func (s *Store) GetDescriptors(targetID string) []LogDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := s.events[targetID]
	descriptors := make([]LogDescriptor, 0, len(logs))
	for logID, byID := range logs {
		ranges := NewSortedRangeSet()
		for id := range byID {
			ranges.Add(id)
		}
		descriptors = append(descriptors, LogDescriptor{TargetID: targetID, LogID: logID, Ranges: ranges})
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].LogID < descriptors[j].LogID })
	return descriptors
}

// Get returns the stored events covered by the descriptor's ranges, sorted
// ascending by ID.
func (s *Store) Get(descriptor LogDescriptor) []LogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.events[descriptor.TargetID][descriptor.LogID]
	var res []LogEvent
	for id, ev := range byID {
		if descriptor.Ranges == nil || descriptor.Ranges.Contains(id) {
			res = append(res, ev)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (s *Store) publish(targetID string) {
	if s.broker == nil {
		return
	}
	_ = s.broker.Publish(context.Background(), shared.NewSimplePubSubMessage(shared.AuditLogChange, map[string]any{
		"gatewayID": targetID,
	}))
}
