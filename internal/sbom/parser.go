package sbom

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"strings"
)

// Parse decodes raw SBOM bytes into a Document. The declared format, when non-empty,
// must agree with what the content actually is; pass "" to auto-detect.
// Returns *ParseError for malformed content and *UnsupportedFormatError for
// content in a format we do not handle.
func Parse(content []byte, declared string) (*Document, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, &ParseError{Reason: "empty document"}
	}

	var doc *Document
	var err error
	switch {
	case trimmed[0] == '{':
		doc, err = parseJSON(trimmed)
	case trimmed[0] == '<':
		doc, err = parseXML(trimmed)
	default:
		return nil, &UnsupportedFormatError{Hint: "content is neither JSON nor XML"}
	}
	if err != nil {
		return nil, err
	}

	if declared != "" && !strings.EqualFold(declared, string(doc.Format)) {
		return nil, &UnsupportedFormatError{
			Hint: "declared format " + declared + " does not match detected " + string(doc.Format),
		}
	}

	doc.Raw = content
	return doc, nil
}

type cycloneDXJSON struct {
	BOMFormat   string `json:"bomFormat"`
	SpecVersion string `json:"specVersion"`
	Components  []struct {
		Type    string `json:"type"`
		Name    string `json:"name"`
		Version string `json:"version"`
		PURL    string `json:"purl"`
	} `json:"components"`
}

type spdxJSON struct {
	SPDXVersion string `json:"spdxVersion"`
	Packages    []struct {
		Name         string `json:"name"`
		VersionInfo  string `json:"versionInfo"`
		ExternalRefs []struct {
			ReferenceType    string `json:"referenceType"`
			ReferenceLocator string `json:"referenceLocator"`
		} `json:"externalRefs"`
	} `json:"packages"`
}

func parseJSON(content []byte) (*Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(content, &probe); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}

	if _, ok := probe["bomFormat"]; ok {
		var bom cycloneDXJSON
		if err := json.Unmarshal(content, &bom); err != nil {
			return nil, &ParseError{Reason: "invalid CycloneDX JSON", Err: err}
		}
		if bom.BOMFormat != "CycloneDX" {
			return nil, &UnsupportedFormatError{Hint: "bomFormat " + bom.BOMFormat}
		}
		doc := &Document{Format: FormatCycloneDX, SpecVersion: bom.SpecVersion}
		for _, c := range bom.Components {
			doc.Components = append(doc.Components, Component{
				Name:    orUnknown(c.Name),
				Version: orUnknown(c.Version),
				PURL:    c.PURL,
				Type:    c.Type,
			})
		}
		return doc, nil
	}

	if _, ok := probe["spdxVersion"]; ok {
		var bom spdxJSON
		if err := json.Unmarshal(content, &bom); err != nil {
			return nil, &ParseError{Reason: "invalid SPDX JSON", Err: err}
		}
		doc := &Document{Format: FormatSPDX, SpecVersion: bom.SPDXVersion}
		for _, p := range bom.Packages {
			comp := Component{Name: orUnknown(p.Name), Version: orUnknown(p.VersionInfo), Type: "library"}
			for _, ref := range p.ExternalRefs {
				if ref.ReferenceType == "purl" {
					comp.PURL = ref.ReferenceLocator
					break
				}
			}
			doc.Components = append(doc.Components, comp)
		}
		return doc, nil
	}

	return nil, &UnsupportedFormatError{Hint: "JSON document is neither CycloneDX nor SPDX"}
}

type cycloneDXXML struct {
	XMLName    xml.Name `xml:"bom"`
	Version    string   `xml:"version,attr"`
	Components []struct {
		Type    string `xml:"type,attr"`
		Name    string `xml:"name"`
		Version string `xml:"version"`
		PURL    string `xml:"purl"`
	} `xml:"components>component"`
}

type spdxXML struct {
	XMLName  xml.Name `xml:"Document"`
	Version  string   `xml:"spdxVersion"`
	Packages []struct {
		Name    string `xml:"name"`
		Version string `xml:"versionInfo"`
	} `xml:"Package"`
}

func parseXML(content []byte) (*Document, error) {
	lowered := strings.ToLower(string(content))
	switch {
	case strings.Contains(lowered, "cyclonedx") || strings.Contains(lowered, "<bom"):
		var bom cycloneDXXML
		if err := xml.Unmarshal(content, &bom); err != nil {
			return nil, &ParseError{Reason: "invalid CycloneDX XML", Err: err}
		}
		doc := &Document{Format: FormatCycloneDX, SpecVersion: bom.Version}
		for _, c := range bom.Components {
			doc.Components = append(doc.Components, Component{
				Name:    orUnknown(c.Name),
				Version: orUnknown(c.Version),
				PURL:    c.PURL,
				Type:    c.Type,
			})
		}
		return doc, nil
	case strings.Contains(lowered, "spdx"):
		var bom spdxXML
		if err := xml.Unmarshal(content, &bom); err != nil {
			return nil, &ParseError{Reason: "invalid SPDX XML", Err: err}
		}
		doc := &Document{Format: FormatSPDX, SpecVersion: bom.Version}
		for _, p := range bom.Packages {
			doc.Components = append(doc.Components, Component{
				Name:    orUnknown(p.Name),
				Version: orUnknown(p.Version),
				Type:    "library",
			})
		}
		return doc, nil
	default:
		return nil, &UnsupportedFormatError{Hint: "XML document is neither CycloneDX nor SPDX"}
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
