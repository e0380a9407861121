// Package chain implements the Chain Analyzer (C5): it matches the 11
// multi-step attack patterns from spec §4.5 against a session history and
// the current request, returning the highest-declared-boost match. Each
// pattern's boolean condition is a compiled CEL program evaluated over a
// small feature struct (Signals) computed once per call; Go code only
// extracts the raw counts, so the 11 thresholds stay auditable as
// expressions in one table (the same role CEL plays in the
// teacher's policy evaluator, redirected from RBAC rules to attack-pattern
// predicates).
package chain

import "time"

// Pattern is one declared attack-sequence rule (spec §4.5 table).
type Pattern struct {
	// ID is the pattern identifier attached to a matching decision.
	ID string
	// Boost is the risk added when this pattern matches.
	Boost int
	// MinPrior is the minimum number of prior actions within the session
	// window required before this pattern is even considered.
	MinPrior int
	// Expression is the CEL boolean expression evaluated against a Signals
	// activation map (see Signals.Activation).
	Expression string
}

// Patterns is the fixed, ordered list of 11 chain patterns: descending
// declared boost, ties broken by declaration order (spec §4.5). This is
// the authoritative count per spec §9 Open Questions — implementations
// must not add patterns silently.
var Patterns = []Pattern{
	{ID: "repeated-scope-probing", Boost: 60, MinPrior: 2, Expression: "prior_action_count >= 2 && blocked_scope_count >= 2"},
	{ID: "multi-cred-harvest", Boost: 60, MinPrior: 2, Expression: "prior_action_count >= 2 && credential_match_count >= 2"},
	{ID: "credential-then-http", Boost: 55, MinPrior: 1, Expression: "prior_action_count >= 1 && has_prior_credential_match && is_network_send"},
	{ID: "privilege-escalation", Boost: 50, MinPrior: 1, Expression: "prior_action_count >= 1 && has_prior_privileged_token && is_shell_or_system_write"},
	{ID: "read-write-exec", Boost: 45, MinPrior: 2, Expression: "prior_action_count >= 2 && read_write_exec_sequence"},
	{ID: "delayed-exfil", Boost: 45, MinPrior: 1, Expression: "prior_action_count >= 1 && credential_read_age_minutes >= 10.0 && is_outbound_send"},
	{ID: "block-bypass-retry", Boost: 40, MinPrior: 1, Expression: "prior_action_count >= 1 && has_similar_blocked"},
	{ID: "data-staging", Boost: 40, MinPrior: 2, Expression: "prior_action_count >= 2 && prior_file_read_before_send >= 2 && is_outbound_send"},
	{ID: "browse-then-exfil", Boost: 35, MinPrior: 1, Expression: "prior_action_count >= 1 && prior_http_get_like && is_messaging_send"},
	{ID: "env-recon", Boost: 35, MinPrior: 1, Expression: "prior_action_count >= 1 && prior_env_read_count >= 1 && is_any_write"},
	{ID: "rapid-tool-switching", Boost: 30, MinPrior: 3, Expression: "prior_action_count >= 3 && distinct_tools_last6 >= 5"},
}

// elevationThreshold is the spec §4.5 "≥80 ⇒ review" rule's floor.
const elevationThreshold = 80

// ElevateToReview reports whether a tentative "allow" decision must be
// elevated to "review" given the combined risk after a chain boost. Never
// elevates to block (spec §4.5: "never to block").
func ElevateToReview(tentativeAllow bool, combinedRisk int) bool {
	return tentativeAllow && combinedRisk >= elevationThreshold
}

// SoftCap is the chain analyzer's own overrun budget (spec §5): on overrun
// the analyzer records a degraded step and skips remaining patterns.
const SoftCap = 100 * time.Millisecond
