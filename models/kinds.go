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

package models

// Kind tags the entity variants of the shop. The three association kinds
// are first-class repository objects like everything else.
type Kind string

const (
	KindArtifact          Kind = "artifact"
	KindGroup             Kind = "group"
	KindLicense           Kind = "license"
	KindGateway           Kind = "gateway"
	KindDeploymentVersion Kind = "deploymentversion"

	KindArtifact2Group  Kind = "artifact2group"
	KindGroup2License   Kind = "group2license"
	KindLicense2Gateway Kind = "license2gateway"
)

// Attribute keys.
const (
	// AttrURL is the artifact location. Defining key of artifacts.
	AttrURL      = "url"
	AttrMimetype = "mimetype"
	// AttrArtifactName is a human readable artifact name, also used as the
	// Resource-ID directive for processed artifacts.
	AttrArtifactName = "artifactName"
	// AttrProcessorPID names the resource processor a non-bundle artifact
	// needs for installation.
	AttrProcessorPID = "processorPid"
	// AttrProvidesProcessor marks a bundle that publishes a resource
	// processor under the given PID.
	AttrProvidesProcessor = "providesResourceProcessor"
	// AttrSymbolicName and AttrBundleVersion mirror the bundle manifest for
	// bundle artifacts.
	AttrSymbolicName  = "Bundle-SymbolicName"
	AttrBundleVersion = "Bundle-Version"

	// AttrName is the defining key of groups and licenses.
	AttrName        = "name"
	AttrDescription = "description"

	// AttrID is the defining key of gateways.
	AttrID = "id"

	// AttrGatewayID and AttrVersion form the defining key of deployment
	// versions.
	AttrGatewayID = "gatewayID"
	AttrVersion   = "version"

	// Association attributes. Endpoints are filter strings, cardinalities
	// decimal integers.
	AttrLeftEndpoint     = "leftEndpoint"
	AttrRightEndpoint    = "rightEndpoint"
	AttrLeftCardinality  = "leftCardinality"
	AttrRightCardinality = "rightCardinality"
)

// TagAutoApprove enables automatic approval of new deployment versions for a
// gateway.
const TagAutoApprove = "autoapprove"

// MimetypeBundle identifies directly deployable OSGi bundle artifacts.
const MimetypeBundle = "application/vnd.osgi.bundle"

// definingKeys is the identity schema per kind. These sets are part of the
// persisted contract and must not change for existing data.
var definingKeys = map[Kind][]string{
	KindArtifact:          {AttrURL},
	KindGroup:             {AttrName},
	KindLicense:           {AttrName},
	KindGateway:           {AttrID},
	KindDeploymentVersion: {AttrGatewayID, AttrVersion},
	KindArtifact2Group:    {AttrLeftEndpoint, AttrRightEndpoint, AttrLeftCardinality, AttrRightCardinality},
	KindGroup2License:     {AttrLeftEndpoint, AttrRightEndpoint, AttrLeftCardinality, AttrRightCardinality},
	KindLicense2Gateway:   {AttrLeftEndpoint, AttrRightEndpoint, AttrLeftCardinality, AttrRightCardinality},
}

// associationEnds maps an association kind to the kinds of its endpoints.
var associationEnds = map[Kind][2]Kind{
	KindArtifact2Group:  {KindArtifact, KindGroup},
	KindGroup2License:   {KindGroup, KindLicense},
	KindLicense2Gateway: {KindLicense, KindGateway},
}

func DefiningKeys(kind Kind) []string {
	return definingKeys[kind]
}

func isDefiningKey(kind Kind, key string) bool {
	for _, k := range definingKeys[kind] {
		if k == key {
			return true
		}
	}
	return false
}

// IsAssociationKind reports whether the kind links two endpoint kinds.
func IsAssociationKind(kind Kind) bool {
	_, ok := associationEnds[kind]
	return ok
}

// AssociationEnds returns the left and right endpoint kinds of an
// association kind.
func AssociationEnds(kind Kind) (Kind, Kind) {
	ends := associationEnds[kind]
	return ends[0], ends[1]
}
