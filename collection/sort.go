package collection

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/internal/pathstore"
)

// Sort orders.
const (
	Ascending  = "asc"
	Descending = "desc"
)

// SortKey is one sort criterion: the path of the compared value and its order.
type SortKey struct {
	By    []string `json:"by"`
	Order string   `json:"order"`
}

// Sort returns the ids of docs ordered by keys.
//
// Keys are applied in turn; the first one that tells two documents apart
// decides. Missing and null values go last whatever the order, the order
// only flips defined values. Strings use locale-aware collation, numbers
// compare numerically, RFC 3339 timestamps by instant, arrays as their
// comma-joined strings, false before true. Documents equal on every key keep
// id order.
func Sort(docs map[string]docstow.Document, keys []SortKey) []string {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}

	c := newComparer()
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := docs[ids[i]], docs[ids[j]]
		for _, key := range keys {
			av, _, _ := pathstore.Get(a, key.By)
			bv, _, _ := pathstore.Get(b, key.By)
			if cmp := c.compare(av, bv, key.Order == Descending); cmp != 0 {
				return cmp < 0
			}
		}
		return ids[i] < ids[j]
	})
	return ids
}

type comparer struct {
	collator *collate.Collator
}

func newComparer() *comparer {
	return &comparer{collator: collate.New(language.Und)}
}

// compare orders a against b. Missing values sort last regardless of desc.
func (c *comparer) compare(a, b interface{}, desc bool) int {
	aMissing, bMissing := a == nil, b == nil
	switch {
	case aMissing && bMissing:
		return 0
	case aMissing:
		return 1
	case bMissing:
		return -1
	}

	cmp := c.compareDefined(a, b)
	if desc {
		return -cmp
	}
	return cmp
}

func (c *comparer) compareDefined(a, b interface{}) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return compareFloat(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return compareBool(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			if at, bt, ok := parseInstants(av, bv); ok {
				return at.Compare(bt)
			}
			return c.collator.CompareString(av, bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return c.collator.CompareString(sortString(a), sortString(b))
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// parseInstants parses both strings as RFC 3339 timestamps.
func parseInstants(a, b string) (time.Time, time.Time, bool) {
	at, err := time.Parse(time.RFC3339Nano, a)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	bt, err := time.Parse(time.RFC3339Nano, b)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return at, bt, true
}

// sortString renders a value for string comparison. Arrays join their
// elements with commas.
func sortString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		parts := make([]string, len(val))
		for i, e := range val {
			if e == nil {
				continue
			}
			parts[i] = sortString(e)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	case float64:
		return fmt.Sprintf("%v", val)
	}
	return fmt.Sprint(v)
}
