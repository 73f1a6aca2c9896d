// Package enrich derives dataset-level quality and risk tags from a validated tenant upload.
package enrich

import (
	"sort"
	"strings"
	"time"

	"github.com/antoniostano/onboarding/internal/tenantcsv"
)

const (
	LongTermTenant    = "long_term_tenant"
	FutureContract    = "future_contract_tag"
	SharedContact     = "shared_contact_tag"
	NameFormatAnomaly = "name_format_anomaly"
)

// longTermDays is exclusive: a contract exactly this many days old is not long term.
const longTermDays = 365

// Tags is a deduplicated tag set.
type Tags map[string]struct{}

func (t Tags) Has(tag string) bool {
	_, ok := t[tag]
	return ok
}

// Sorted returns the tags in lexical order.
func (t Tags) Sorted() []string {
	out := make([]string, 0, len(t))
	for tag := range t {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Enrich computes the union of tags triggered by any row. Contract starts and today
// are compared as UTC calendar dates.
func Enrich(ds *tenantcsv.Dataset, today time.Time) Tags {
	tags := make(Tags)
	if ds.Len() == 0 {
		return tags
	}

	day := utcDate(today)

	emailCount := make(map[string]int, len(ds.Rows))
	for _, row := range ds.Rows {
		emailCount[row.Email]++
	}

	for _, row := range ds.Rows {
		start := utcDate(row.ContractStart)
		if daysBetween(start, day) > longTermDays {
			tags[LongTermTenant] = struct{}{}
		}
		if start.After(day) {
			tags[FutureContract] = struct{}{}
		}
		if emailCount[row.Email] > 1 {
			tags[SharedContact] = struct{}{}
		}
		if len(strings.Fields(row.TenantName)) == 0 {
			tags[NameFormatAnomaly] = struct{}{}
		}
	}
	return tags
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
