// Package policy implements the Policy Store (C2): a dual-source,
// TTL-cached, regex-validated, versioned registry of tool-call policies.
package policy

import (
	"time"

	"github.com/runtimegov/governor/internal/domain/action"
)

// Severity is the declared severity of a policy match.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Origin distinguishes statically-loaded base policies from dynamically
// written ones; base entries are overridden by a dynamic entry sharing the
// same id in the merged, ordered view the engine consumes.
type Origin string

const (
	OriginBase    Origin = "base"
	OriginDynamic Origin = "dynamic"
)

// Policy maps a tool-call pattern to a decision and severity. Every regex
// field, if present, is guaranteed to compile: the store rejects a policy
// at create/patch time if it doesn't (spec §3 Policy invariant).
type Policy struct {
	ID string
	// Description is a human-readable summary of what this policy guards.
	Description string
	// ToolPattern is the literal tool name this policy applies to, or "*"
	// to match every tool.
	ToolPattern string
	Severity    Severity
	// Action is the decision this policy contributes when it matches.
	Action action.Decision
	// URLRegex, if non-empty, must match the request URL (MatchInput.URL).
	URLRegex string
	// ArgsRegex, if non-empty, must match the request's flattened arg string.
	ArgsRegex string
	Active    bool
	Origin    Origin
	// Version is incremented on every write; matches the length of the
	// policy's version history at the time of the write.
	Version int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Spec is the caller-supplied payload for PolicyStore.Create, and also the
// shape of a base-policy YAML entry (spec's supplemented policy-import
// feature).
type Spec struct {
	ID          string          `yaml:"id" validate:"required"`
	Description string          `yaml:"description"`
	ToolPattern string          `yaml:"tool_pattern" validate:"required"`
	Severity    Severity        `yaml:"severity" validate:"required,oneof=low medium high critical"`
	Action      action.Decision `yaml:"action" validate:"required,oneof=allow review block"`
	URLRegex    string          `yaml:"url_regex"`
	ArgsRegex   string          `yaml:"args_regex"`
	Active      bool            `yaml:"active"`
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Description *string
	ToolPattern *string
	Severity    *Severity
	Action      *action.Decision
	URLRegex    *string
	ArgsRegex   *string
	Active      *bool
}

// Version is an immutable, append-only snapshot of a Policy at write time.
type Version struct {
	PolicyID string
	Version  int
	Snapshot Policy
	// Before/After are the JSON-rendered pre/post images, for the audit diff.
	Before string
	After  string
	ActorID   string
	Timestamp time.Time
}
