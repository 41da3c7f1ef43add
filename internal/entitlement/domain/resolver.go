package domain

import (
	"sort"
	"strings"
	"time"
)

var inactiveStatuses = map[string]struct{}{
	StatusInactive:          {},
	StatusIncomplete:        {},
	StatusIncompleteExpired: {},
	StatusUnpaid:            {},
}

var fallbackActiveStatuses = map[string]struct{}{
	StatusActive:   {},
	StatusTrialing: {},
	StatusPastDue:  {},
}

// PlanFromSubscription maps a subscription to its nominal plan. It does not
// consider cancellation; combine with IsActive for the effective plan.
func PlanFromSubscription(sub *Subscription, now time.Time) Plan {
	if sub == nil {
		return PlanFree
	}
	status := strings.ToLower(strings.TrimSpace(sub.Status))
	if _, ok := inactiveStatuses[status]; ok {
		return PlanFree
	}
	plan := strings.ToLower(strings.TrimSpace(sub.Plan))
	if plan == "" || plan == "free" {
		return PlanFree
	}
	if sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(now) {
		return PlanFree
	}
	return PlanPro
}

// IsActive reports whether the subscription is entitled at now. A canceled
// subscription stays entitled until its effective end.
func IsActive(sub *Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	if end := effectiveEnd(sub); end != nil {
		return end.After(now)
	}
	_, ok := fallbackActiveStatuses[strings.ToLower(strings.TrimSpace(sub.Status))]
	return ok
}

// EffectivePlan is PRO only when the nominal plan is PRO and the
// subscription is entitled at now.
func EffectivePlan(sub *Subscription, now time.Time) Plan {
	if PlanFromSubscription(sub, now) == PlanPro && IsActive(sub, now) {
		return PlanPro
	}
	return PlanFree
}

// effectiveEnd picks cancelAt when it comes before currentPeriodEnd.
func effectiveEnd(sub *Subscription) *time.Time {
	switch {
	case sub.CancelAt != nil && sub.CurrentPeriodEnd != nil:
		if sub.CancelAt.Before(*sub.CurrentPeriodEnd) {
			return sub.CancelAt
		}
		return sub.CurrentPeriodEnd
	case sub.CurrentPeriodEnd != nil:
		return sub.CurrentPeriodEnd
	default:
		return sub.CancelAt
	}
}

// NewSnapshot builds the client-facing view at now.
func NewSnapshot(sub *Subscription, now time.Time) Snapshot {
	if sub == nil {
		return Snapshot{Plan: PlanFree}
	}
	return Snapshot{
		Plan:              EffectivePlan(sub, now),
		IsActive:          IsActive(sub, now),
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelAt:          sub.CancelAt,
	}
}

// Limits is the per-plan daily limits table with a separate deny-list.
type Limits struct {
	limits map[string]map[string]int64
	locked map[string]map[string]struct{}
}

// NewLimits builds a table keyed by lowercase plan tag.
func NewLimits(limits map[string]map[string]int64, locked map[string][]string) Limits {
	l := Limits{
		limits: make(map[string]map[string]int64, len(limits)),
		locked: make(map[string]map[string]struct{}, len(locked)),
	}
	for plan, features := range limits {
		copied := make(map[string]int64, len(features))
		for feature, limit := range features {
			copied[feature] = limit
		}
		l.limits[strings.ToLower(plan)] = copied
	}
	for plan, features := range locked {
		set := make(map[string]struct{}, len(features))
		for _, feature := range features {
			set[feature] = struct{}{}
		}
		l.locked[strings.ToLower(plan)] = set
	}
	return l
}

// For returns a copy of the plan's limits. Unknown plans resolve to free.
func (l Limits) For(plan Plan) map[string]int64 {
	table, ok := l.limits[plan.Key()]
	if !ok {
		table = l.limits["free"]
	}
	out := make(map[string]int64, len(table))
	for feature, limit := range table {
		out[feature] = limit
	}
	return out
}

// Limit returns the daily limit for feature. Features absent from the table
// get 0.
func (l Limits) Limit(plan Plan, feature string) int64 {
	return l.For(plan)[feature]
}

// Locked reports whether feature is on the plan's deny-list.
func (l Limits) Locked(plan Plan, feature string) bool {
	set, ok := l.locked[plan.Key()]
	if !ok {
		return false
	}
	_, locked := set[feature]
	return locked
}

// Features lists every feature key known to any plan, sorted.
func (l Limits) Features() []string {
	seen := map[string]struct{}{}
	for _, table := range l.limits {
		for feature := range table {
			seen[feature] = struct{}{}
		}
	}
	for _, set := range l.locked {
		for feature := range set {
			seen[feature] = struct{}{}
		}
	}
	features := make([]string, 0, len(seen))
	for feature := range seen {
		features = append(features, feature)
	}
	sort.Strings(features)
	return features
}
