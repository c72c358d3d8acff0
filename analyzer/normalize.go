package analyzer

import "strings"

// priorityTokens maps substrings (English and Chinese) to their
// normalized Priority, checked in order so more specific tokens (e.g.
// "critical") are not shadowed by looser ones.
var priorityTokens = []struct {
	token    string
	priority Priority
}{
	{"critical", PriorityCritical},
	{"紧急", PriorityCritical},
	{"urgent", PriorityCritical},
	{"high", PriorityHigh},
	{"高", PriorityHigh},
	{"low", PriorityLow},
	{"低", PriorityLow},
	{"medium", PriorityMedium},
	{"中", PriorityMedium},
}

// NormalizePriority maps free text to {low, medium, high, critical} by
// substring match on English or Chinese tokens (spec.md §4.4).
// Unknown values map to medium.
func NormalizePriority(text string) Priority {
	lower := strings.ToLower(text)
	for _, entry := range priorityTokens {
		if strings.Contains(lower, entry.token) {
			return entry.priority
		}
	}
	return PriorityMedium
}

// constraintTokens maps substrings to ConstraintType. security is kept
// distinct from business: the source system's defect where both
// collapse to the same bucket is deliberately not reproduced here
// (spec.md §9).
var constraintTokens = []struct {
	token string
	kind  ConstraintType
}{
	{"security", ConstraintSecurity},
	{"安全", ConstraintSecurity},
	{"secure", ConstraintSecurity},
	{"business", ConstraintBusiness},
	{"业务", ConstraintBusiness},
	{"technical", ConstraintTechnical},
	{"技术", ConstraintTechnical},
}

// NormalizeConstraintType maps free text to {technical, business,
// security} by substring match. Unknown values map to technical.
func NormalizeConstraintType(text string) ConstraintType {
	lower := strings.ToLower(text)
	for _, entry := range constraintTokens {
		if strings.Contains(lower, entry.token) {
			return entry.kind
		}
	}
	return ConstraintTechnical
}
