// Package directory holds the static mapping from insurance providers to
// their public directory entry URLs.
package directory

import (
	"sort"
	"strings"

	"github.com/carescout/carescout/types"
)

// Table maps a normalized insurer identifier to its directory entry URL.
type Table map[string]string

// Default returns the built-in insurer table.
func Default() Table {
	return Table{
		"aetna":        "https://www.aetna.com/dsepublic/#/contentPage?page=providerSearchLanding",
		"anthem":       "https://www.anthem.com/find-care/",
		"bcbs":         "https://provider.bcbs.com/app/public/#/one/insurerCode=BCBSA_I&brandCode=BCBSANDHF/home",
		"cigna":        "https://hcpdirectory.cigna.com/web/public/consumer/directory/search",
		"humana":       "https://finder.humana.com/finder/medical",
		"kaiser":       "https://healthy.kaiserpermanente.org/doctors-locations",
		"medicare":     "https://www.medicare.gov/care-compare/",
		"unitedhealth": "https://connect.werally.com/plans/uhc",
	}
}

// Lookup resolves an insurer identifier (case-insensitive) to its directory
// entry URL.
func (t Table) Lookup(insurer string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(insurer))
	url, ok := t[key]
	if !ok {
		return "", types.NewError(types.ErrUnknownInsurer, "no directory URL for insurer "+insurer)
	}
	return url, nil
}

// Insurers lists the known insurer identifiers in sorted order.
func (t Table) Insurers() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
