package sbom

// Format identifies a supported SBOM document format.
type Format string

const (
	FormatCycloneDX Format = "cyclonedx"
	FormatSPDX      Format = "spdx"
)

// Component represents one entry from an SBOM component list.
type Component struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	PURL    string `json:"purl,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Document is the parsed form of an uploaded SBOM.
type Document struct {
	Format      Format      `json:"format"`
	SpecVersion string      `json:"spec_version"`
	Components  []Component `json:"components"`
	// Raw holds the original upload so external tools can re-consume it verbatim.
	Raw []byte `json:"-"`
}
