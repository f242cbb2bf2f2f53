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
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/provhub-dev/provhub/auditlog"
	"github.com/provhub-dev/provhub/filter"
	"github.com/provhub-dev/provhub/models"
	"github.com/provhub-dev/provhub/repositories"
	"github.com/provhub-dev/provhub/shared"
	"github.com/provhub-dev/provhub/utils"
	"golang.org/x/mod/semver"
)

type RegistrationState string

const (
	Registered   RegistrationState = "registered"
	Unregistered RegistrationState = "unregistered"
)

type StoreState string

const (
	// StoreStateNew marks a target known only from its audit log.
	StoreStateNew StoreState = "new"
	// StoreStateUnapproved marks a registered target whose required
	// artifact set drifted from its latest deployment version.
	StoreStateUnapproved StoreState = "unapproved"
	StoreStateApproved   StoreState = "approved"
)

type ProvisioningState string

const (
	ProvisioningIdle       ProvisioningState = "idle"
	ProvisioningInProgress ProvisioningState = "inProgress"
	ProvisioningOK         ProvisioningState = "ok"
	ProvisioningFailed     ProvisioningState = "failed"
)

// StatefulGateway is the merged, ephemeral per-target view: repository
// state, deployment version history and audit log folded into one
// snapshot. It owns none of its sources.
type StatefulGateway struct {
	ID                string            `json:"id"`
	RegistrationState RegistrationState `json:"registrationState"`
	StoreState        StoreState        `json:"storeState"`
	ProvisioningState ProvisioningState `json:"provisioningState"`
	LatestVersion     string            `json:"latestVersion,omitempty"`
	AutoApprove       bool              `json:"autoApprove"`
}

type trackedGateway struct {
	id           string
	gateway      *models.RepositoryObject
	versions     []*models.RepositoryObject
	store        StoreState
	provisioning ProvisioningState
}

// StatefulGatewayService reconciles live gateway objects, deployment
// version history and audit events into one authoritative view per target.
// All mutating paths are serialized through one coarse mutex: reconciliation
// must be atomic with respect to concurrent populate calls and event
// delivery. This is the known contention point, chosen deliberately over
// throughput.
type StatefulGatewayService struct {
	mu      sync.Mutex
	tracked map[string]*trackedGateway

	gateways           *repositories.ObjectRepository
	deploymentVersions *repositories.ObjectRepository
	auditStore         *auditlog.Store
	resolver           *ResolverService
	broker             shared.PubSubBroker
}

func NewStatefulGatewayService(
	gateways, deploymentVersions *repositories.ObjectRepository,
	auditStore *auditlog.Store,
	resolver *ResolverService,
	broker shared.PubSubBroker,
) *StatefulGatewayService {
	return &StatefulGatewayService{
		tracked:            make(map[string]*trackedGateway),
		gateways:           gateways,
		deploymentVersions: deploymentVersions,
		auditStore:         auditStore,
		resolver:           resolver,
		broker:             broker,
	}
}

// Run consumes change events until the context is cancelled. Every event
// kind has its own channel; anything arriving on the shop channel triggers
// the broad re-evaluation fallback.
func (s *StatefulGatewayService) Run(ctx context.Context) error {
	gatewayCh, err := s.broker.Subscribe(shared.GatewayChange)
	if err != nil {
		return err
	}
	versionCh, err := s.broker.Subscribe(shared.DeploymentVersionChange)
	if err != nil {
		return err
	}
	auditCh, err := s.broker.Subscribe(shared.AuditLogChange)
	if err != nil {
		return err
	}
	refreshCh, err := s.broker.Subscribe(shared.RepositoryRefresh)
	if err != nil {
		return err
	}
	shopCh, err := s.broker.Subscribe(shared.ShopChange)
	if err != nil {
		return err
	}

	go func() {
		defer func() {
			s.broker.Unsubscribe(shared.GatewayChange, gatewayCh)
			s.broker.Unsubscribe(shared.DeploymentVersionChange, versionCh)
			s.broker.Unsubscribe(shared.AuditLogChange, auditCh)
			s.broker.Unsubscribe(shared.RepositoryRefresh, refreshCh)
			s.broker.Unsubscribe(shared.ShopChange, shopCh)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-gatewayCh:
				s.HandleGatewayChange(gatewayIDOf(payload))
			case payload := <-versionCh:
				s.HandleDeploymentVersionChange(gatewayIDOf(payload))
			case payload := <-auditCh:
				s.HandleAuditLogChange(gatewayIDOf(payload))
			case <-refreshCh:
				s.Populate()
			case <-shopCh:
				s.DetermineStatusAll()
			}
		}
	}()
	return nil
}

func gatewayIDOf(payload map[string]any) string {
	id, _ := payload["gatewayID"].(string)
	return id
}

// HandleGatewayChange reacts to a gateway object being added, changed or
// removed: create-if-absent, then a full gateway refresh.
func (s *StatefulGatewayService) HandleGatewayChange(gatewayID string) {
	if gatewayID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.ensureLocked(gatewayID)
	s.updateGatewayObject(t)
	s.updateDeploymentVersions(t)
	s.determineStatus(t)
	s.dropIfVanished(t)
}

// HandleDeploymentVersionChange refreshes the version history of a target.
func (s *StatefulGatewayService) HandleDeploymentVersionChange(gatewayID string) {
	if gatewayID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.ensureLocked(gatewayID)
	s.updateDeploymentVersions(t)
	s.determineStatus(t)
}

// HandleAuditLogChange refreshes provisioning state from new audit events.
func (s *StatefulGatewayService) HandleAuditLogChange(gatewayID string) {
	if gatewayID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.ensureLocked(gatewayID)
	s.updateGatewayObject(t)
	s.updateAuditEvents(t)
	s.determineStatus(t)
}

// Populate reconciles the tracked map against all three sources. Targets
// present in any source get a refresh; tracked entries no source mentions
// get a full existence reverification and are dropped when nothing backs
// them anymore.
func (s *StatefulGatewayService) Populate() {
	touched := map[string]struct{}{}
	for _, gw := range s.gateways.Get() {
		touched[gw.Attribute(models.AttrID)] = struct{}{}
	}
	for _, dv := range s.deploymentVersions.Get() {
		touched[dv.Attribute(models.AttrGatewayID)] = struct{}{}
	}
	for _, id := range s.auditStore.Targets() {
		touched[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range touched {
		t := s.ensureLocked(id)
		s.updateGatewayObject(t)
		s.updateDeploymentVersions(t)
		s.updateAuditEvents(t)
		s.determineStatus(t)
	}
	for id, t := range s.tracked {
		if _, ok := touched[id]; ok {
			continue
		}
		// untouched: the gateway may no longer exist, versions are
		// cleared and audit state force-refreshed
		s.updateGatewayObject(t)
		t.versions = nil
		s.updateDeploymentVersions(t)
		s.updateAuditEvents(t)
		s.determineStatus(t)
		s.dropIfVanished(t)
	}
}

// DetermineStatusAll re-evaluates every tracked target. Any shop-level
// change can affect any target's required-version computation.
func (s *StatefulGatewayService) DetermineStatusAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracked {
		s.determineStatus(t)
	}
}

// Register creates the backing gateway object for a target known so far
// only from its audit log.
func (s *StatefulGatewayService) Register(gatewayID string) error {
	_, err := s.gateways.Create(map[string]string{models.AttrID: gatewayID}, nil)
	if err != nil {
		return err
	}
	s.HandleGatewayChange(gatewayID)
	return nil
}

// Approve generates the next deployment version for the target and returns
// its version label.
func (s *StatefulGatewayService) Approve(gatewayID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.ensureLocked(gatewayID)
	s.updateGatewayObject(t)
	if t.gateway == nil {
		return "", fmt.Errorf("%w: cannot approve unregistered target %s", ErrUnknownTarget, gatewayID)
	}
	return s.approveLocked(t)
}

func (s *StatefulGatewayService) approveLocked(t *trackedGateway) (string, error) {
	dv, err := s.resolver.CreateDeploymentVersion(t.id)
	if err != nil {
		return "", err
	}
	s.updateDeploymentVersions(t)
	t.store = StoreStateApproved
	return dv.Attribute(models.AttrVersion), nil
}

// GetAuditEvents returns the events the caller has not seen yet, per log,
// computed by asymmetric range subtraction (a seen range can have gaps).
// The result is sorted ascending by (logID, time).
func (s *StatefulGatewayService) GetAuditEvents(targetID string, seen []auditlog.LogDescriptor) []auditlog.LogEvent {
	seenByLog := map[int64]*auditlog.SortedRangeSet{}
	for _, d := range seen {
		if d.TargetID == targetID && d.Ranges != nil {
			seenByLog[d.LogID] = d.Ranges
		}
	}

	var events []auditlog.LogEvent
	for _, all := range s.auditStore.GetDescriptors(targetID) {
		seenRanges := seenByLog[all.LogID]
		if seenRanges == nil {
			seenRanges = auditlog.NewSortedRangeSet()
		}
		unseen := seenRanges.DiffDest(all.Ranges)
		if unseen.IsEmpty() {
			continue
		}
		events = append(events, s.auditStore.Get(auditlog.LogDescriptor{
			TargetID: targetID,
			LogID:    all.LogID,
			Ranges:   unseen,
		})...)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].LogID != events[j].LogID {
			return events[i].LogID < events[j].LogID
		}
		if events[i].Time != events[j].Time {
			return events[i].Time < events[j].Time
		}
		return events[i].ID < events[j].ID
	})
	return events
}

// View returns the merged snapshot for one target.
func (s *StatefulGatewayService) View(gatewayID string) (StatefulGateway, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracked[gatewayID]
	if !ok {
		return StatefulGateway{}, false
	}
	return s.snapshot(t), true
}

// List returns snapshots of all tracked targets, sorted by ID.
func (s *StatefulGatewayService) List() []StatefulGateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := utils.Map(utils.Values(s.tracked), s.snapshot)
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (s *StatefulGatewayService) snapshot(t *trackedGateway) StatefulGateway {
	registration := Unregistered
	autoApprove := false
	if t.gateway != nil {
		registration = Registered
		autoApprove = t.gateway.Tag(models.TagAutoApprove) == "true"
	}
	latest := ""
	if len(t.versions) > 0 {
		latest = t.versions[len(t.versions)-1].Attribute(models.AttrVersion)
	}
	return StatefulGateway{
		ID:                t.id,
		RegistrationState: registration,
		StoreState:        t.store,
		ProvisioningState: t.provisioning,
		LatestVersion:     latest,
		AutoApprove:       autoApprove,
	}
}

func (s *StatefulGatewayService) ensureLocked(id string) *trackedGateway {
	t, ok := s.tracked[id]
	if !ok {
		t = &trackedGateway{id: id, store: StoreStateNew, provisioning: ProvisioningIdle}
		s.tracked[id] = t
	}
	return t
}

func (s *StatefulGatewayService) updateGatewayObject(t *trackedGateway) {
	obj, err := s.gateways.GetByID(models.ObjectID(models.KindGateway, map[string]string{models.AttrID: t.id}))
	if err != nil {
		t.gateway = nil
		return
	}
	t.gateway = obj
}

func (s *StatefulGatewayService) updateDeploymentVersions(t *trackedGateway) {
	objs, err := s.deploymentVersions.GetFilter("(" + models.AttrGatewayID + "=" + filter.Escape(t.id) + ")")
	if err != nil {
		t.versions = nil
		return
	}
	sort.Slice(objs, func(i, j int) bool {
		vi := "v" + objs[i].Attribute(models.AttrVersion)
		vj := "v" + objs[j].Attribute(models.AttrVersion)
		if semver.IsValid(vi) && semver.IsValid(vj) {
			return semver.Compare(vi, vj) < 0
		}
		return vi < vj
	})
	t.versions = objs
}

func (s *StatefulGatewayService) updateAuditEvents(t *trackedGateway) {
	events := s.GetAuditEvents(t.id, nil)
	sort.Slice(events, func(i, j int) bool {
		if events[i].Time != events[j].Time {
			return events[i].Time < events[j].Time
		}
		return events[i].ID < events[j].ID
	})

	state := ProvisioningIdle
	for _, ev := range events {
		switch ev.Type {
		case auditlog.EventInstall:
			state = ProvisioningInProgress
		case auditlog.EventComplete:
			state = ProvisioningOK
		case auditlog.EventFailure:
			state = ProvisioningFailed
		}
	}
	t.provisioning = state
}

// determineStatus recomputes the store state from the current association
// graph. Resolution failures keep the previous state: the target keeps its
// latest deployment version until the shop data is fixed.
func (s *StatefulGatewayService) determineStatus(t *trackedGateway) {
	if t.gateway == nil {
		t.store = StoreStateNew
		return
	}

	resolved, err := s.resolver.Resolve(t.id, "")
	if err != nil {
		slog.Error("could not resolve artifact set for target", "gatewayID", t.id, "err", err)
		return
	}

	if s.drifted(t, resolved) {
		t.store = StoreStateUnapproved
		if t.gateway.Tag(models.TagAutoApprove) == "true" {
			if _, err := s.approveLocked(t); err != nil {
				slog.Error("auto-approve failed", "gatewayID", t.id, "err", err)
			}
		}
		return
	}
	t.store = StoreStateApproved
}

// drifted compares the resolved artifact URL set against the latest
// deployment version.
func (s *StatefulGatewayService) drifted(t *trackedGateway, resolved []models.DeploymentArtifact) bool {
	var latest []models.DeploymentArtifact
	if len(t.versions) > 0 {
		latest = t.versions[len(t.versions)-1].DeploymentArtifacts()
	}
	if len(resolved) != len(latest) {
		return true
	}
	urls := map[string]struct{}{}
	for _, da := range latest {
		urls[da.URL] = struct{}{}
	}
	for _, da := range resolved {
		base := da.URL
		if b := da.Directive(models.DirectiveBaseURL); b != "" {
			base = b
		}
		if _, ok := urls[da.URL]; !ok {
			if _, ok := urls[base]; !ok {
				return true
			}
		}
	}
	return false
}

func (s *StatefulGatewayService) dropIfVanished(t *trackedGateway) {
	if t.gateway != nil || len(t.versions) > 0 {
		return
	}
	if len(s.auditStore.GetDescriptors(t.id)) > 0 {
		return
	}
	delete(s.tracked, t.id)
}
