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

// Deployment artifact directive keys. These are a persisted wire contract
// consumed by existing agents and must be preserved bit-for-bit.
const (
	DirectiveIsCustomizer = "DeploymentPackage-Customizer"
	DirectiveProcessorPID = "Resource-Processor"
	DirectiveResourceID   = "Resource-ID"
	DirectiveBaseURL      = "Base-Url"
	DirectiveSymbolicName = "Bundle-SymbolicName"
	DirectiveVersion      = "Bundle-Version"
)

// DeploymentArtifact is one entry of a deployment version: the location the
// target fetches plus the directives telling it how to install the artifact.
type DeploymentArtifact struct {
	URL        string            `json:"url"`
	Directives map[string]string `json:"directives"`
}

func (d DeploymentArtifact) Directive(key string) string {
	return d.Directives[key]
}

// ArtifactHelper answers packaging questions about artifacts. It is a thin
// adapter over packaging metadata; the default implementation understands
// plain OSGi bundles and processor-requiring resources.
type ArtifactHelper interface {
	// CanUse reports whether the artifact is directly deployable without a
	// resource processor.
	CanUse(artifact *RepositoryObject) bool
	// ProcessorPID returns the PID of the resource processor the artifact
	// needs, or "" for directly deployable artifacts.
	ProcessorPID(artifact *RepositoryObject) string
	// ProvidedProcessorPID returns the PID a bundle publishes as a resource
	// processor, or "" if it provides none.
	ProvidedProcessorPID(artifact *RepositoryObject) string
}

// BundleHelper is the default ArtifactHelper.
type BundleHelper struct{}

func (BundleHelper) CanUse(artifact *RepositoryObject) bool {
	return artifact.Attribute(AttrMimetype) == MimetypeBundle
}

func (BundleHelper) ProcessorPID(artifact *RepositoryObject) string {
	if artifact.Attribute(AttrMimetype) == MimetypeBundle {
		return ""
	}
	return artifact.Attribute(AttrProcessorPID)
}

func (BundleHelper) ProvidedProcessorPID(artifact *RepositoryObject) string {
	if artifact.Attribute(AttrMimetype) != MimetypeBundle {
		return ""
	}
	return artifact.Attribute(AttrProvidesProcessor)
}

// ArtifactPreprocessor can rewrite artifact content per target before it is
// put into a deployment version, e.g. for per-target URL substitution. The
// returned URL becomes the deployment artifact's location; the original is
// preserved under the Base-Url directive.
type ArtifactPreprocessor interface {
	Preprocess(artifact *RepositoryObject, gatewayID string, version string) (string, error)
}
