package sbom

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Fingerprint computes a stable content hash of a parsed document. It hashes the
// canonicalized component list rather than the raw bytes, so two uploads that differ
// only in whitespace or key ordering produce the same fingerprint.
func Fingerprint(doc *Document) string {
	comps := make([]Component, len(doc.Components))
	copy(comps, doc.Components)
	sort.Slice(comps, func(i, j int) bool {
		if comps[i].Name != comps[j].Name {
			return comps[i].Name < comps[j].Name
		}
		if comps[i].Version != comps[j].Version {
			return comps[i].Version < comps[j].Version
		}
		return comps[i].PURL < comps[j].PURL
	})

	h := sha256.New()
	fmt.Fprintf(h, "format:%s\n", doc.Format)
	for _, c := range comps {
		fmt.Fprintf(h, "%s\x1f%s\x1f%s\n", c.Name, c.Version, c.PURL)
	}
	return hex.EncodeToString(h.Sum(nil))
}
