package syncer

import "fmt"

// Unlimited marks a role without a storage limit.
const Unlimited int64 = -1

// DefaultQuotas maps hosted account roles to their storage allowance in bytes.
var DefaultQuotas = map[string]int64{
	"user":      200 << 20,
	"supporter": 1 << 30,
	"_admin":    Unlimited,
}

// quotaFor returns the largest allowance among roles. ok is false when no
// role is listed in the table.
func quotaFor(table map[string]int64, roles []string) (limit int64, role string, ok bool) {
	for _, r := range roles {
		q, listed := table[r]
		if !listed {
			continue
		}
		switch {
		case q == Unlimited:
			return Unlimited, r, true
		case !ok || q > limit:
			limit, role, ok = q, r, true
		}
	}
	return limit, role, ok
}

// checkQuota fails when usage exceeds what the account's roles allow.
// Accounts without a listed role are not limited.
func checkQuota(table map[string]int64, usage Usage) error {
	limit, role, ok := quotaFor(table, usage.Roles)
	if !ok || limit == Unlimited || usage.DBSize <= limit {
		return nil
	}
	return NewError(KindQuota, fmt.Sprintf("storage quota exceeded: %d bytes used, role %q allows %d", usage.DBSize, role, limit))
}
