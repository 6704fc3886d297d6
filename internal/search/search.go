// Package search implements the FHIR search-parameter conventions spec.md §6
// asks of the Task/Communication/MedicationDispense/AuditEvent list
// operations: prefixed comparisons (eq|ne|gt|lt|ge|le|sa|eb|ap), a `_sort`
// field list, a `_count` page size, and an opaque `pageId` cursor. No pack
// example implements FHIR search, so this is new code built in the lifecycle
// engine's own idiom, over plain stdlib (sort, strconv, encoding/base64,
// encoding/json) rather than a third-party query-building library, since the
// grammar here is small and fixed by spec.md rather than general-purpose.
package search

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Prefix is one of the FHIR search comparison prefixes.
type Prefix string

const (
	Eq Prefix = "eq"
	Ne Prefix = "ne"
	Gt Prefix = "gt"
	Lt Prefix = "lt"
	Ge Prefix = "ge"
	Le Prefix = "le"
	Sa Prefix = "sa"
	Eb Prefix = "eb"
	Ap Prefix = "ap"
)

var allPrefixes = []Prefix{Eq, Ne, Ge, Le, Gt, Lt, Sa, Eb, Ap}

// SplitPrefix separates a leading comparison prefix from a search value.
// A value with no recognized prefix defaults to Eq, per the FHIR spec.
func SplitPrefix(raw string) (Prefix, string) {
	for _, p := range allPrefixes {
		if rest, ok := strings.CutPrefix(raw, string(p)); ok {
			return p, rest
		}
	}
	return Eq, raw
}

// MatchesDate reports whether candidate satisfies prefix relative to ref.
// Ap ("approximately") treats values within 24 hours of ref as a match,
// since spec.md does not name a tolerance and the KBV bundle's own date
// fields carry day-level granularity.
func MatchesDate(prefix Prefix, candidate, ref time.Time) bool {
	switch prefix {
	case Eq:
		return candidate.Equal(ref)
	case Ne:
		return !candidate.Equal(ref)
	case Gt, Sa:
		return candidate.After(ref)
	case Lt, Eb:
		return candidate.Before(ref)
	case Ge:
		return !candidate.Before(ref)
	case Le:
		return !candidate.After(ref)
	case Ap:
		delta := ref.Sub(candidate)
		if delta < 0 {
			delta = -delta
		}
		return delta <= 24*time.Hour
	default:
		return false
	}
}

// SortField is one `_sort` term; a leading "-" requests descending order.
type SortField struct {
	Name string
	Desc bool
}

// ParseSort splits a comma-separated `_sort` value into its fields.
func ParseSort(raw string) []SortField {
	if raw == "" {
		return nil
	}
	var fields []SortField
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(part, "-"); ok {
			fields = append(fields, SortField{Name: rest, Desc: true})
		} else {
			fields = append(fields, SortField{Name: part})
		}
	}
	return fields
}

// ParseCount parses a `_count` value, falling back to def when absent and
// clamping to max to bound response size.
func ParseCount(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("search: invalid _count %q", raw)
	}
	if n > max {
		n = max
	}
	return n, nil
}

type pageToken struct {
	SortKey string `json:"k"`
	ID      string `json:"id"`
}

// EncodePageID builds the opaque cursor for the last item returned on a
// page: its sort key and its own stable id, the tiebreaker for items that
// share a sort key.
func EncodePageID(sortKey, id string) string {
	b, _ := json.Marshal(pageToken{SortKey: sortKey, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodePageID reverses EncodePageID. An empty token decodes to the zero
// value with no error, representing "start from the beginning".
func DecodePageID(token string) (sortKey, id string, err error) {
	if token == "" {
		return "", "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("search: malformed pageId: %w", err)
	}
	var pt pageToken
	if err := json.Unmarshal(raw, &pt); err != nil {
		return "", "", fmt.Errorf("search: malformed pageId: %w", err)
	}
	return pt.SortKey, pt.ID, nil
}

// Keyed is implemented by any item participating in keyset pagination.
// SortKey returns the item's comparable sort value (e.g. an RFC3339
// timestamp, or an audit sub-type string); ID returns its own stable
// identifier.
type Keyed interface {
	SortKey() string
	ID() string
}

// Page sorts items by their Keyed.SortKey (ties broken by ID), then returns
// the slice starting after pageId, truncated to count items, plus the
// pageId for the next page (empty when the caller has reached the end).
// items is sorted in place.
func Page[T Keyed](items []T, desc bool, count int, pageId string) ([]T, string, error) {
	afterKey, afterId, err := DecodePageID(pageId)
	if err != nil {
		return nil, "", err
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].SortKey() != items[j].SortKey() {
			if desc {
				return items[i].SortKey() > items[j].SortKey()
			}
			return items[i].SortKey() < items[j].SortKey()
		}
		return items[i].ID() < items[j].ID()
	})

	start := 0
	if afterKey != "" || afterId != "" {
		for i, it := range items {
			if it.SortKey() == afterKey && it.ID() == afterId {
				start = i + 1
				break
			}
		}
	}

	end := len(items)
	if count > 0 && start+count < end {
		end = start + count
	}
	if start > len(items) {
		start = len(items)
	}
	page := items[start:end]

	var next string
	if end < len(items) && len(page) > 0 {
		last := page[len(page)-1]
		next = EncodePageID(last.SortKey(), last.ID())
	}
	return page, next, nil
}
