// Package action defines the core request/decision data model evaluated by
// the governance pipeline: the inbound Request, the persisted Action, and
// the per-layer TraceStep record that documents how a decision was reached.
package action

import "time"

// Decision is the outcome of evaluating a tool call.
type Decision string

const (
	// DecisionAllow permits the tool call to proceed.
	DecisionAllow Decision = "allow"
	// DecisionReview flags the tool call for human review without blocking it outright.
	DecisionReview Decision = "review"
	// DecisionBlock blocks the tool call.
	DecisionBlock Decision = "block"
)

// String returns the string representation of the Decision.
func (d Decision) String() string {
	return string(d)
}

// Outcome is the per-layer result recorded in a TraceStep.
type Outcome string

const (
	// OutcomePass means the layer found nothing actionable.
	OutcomePass Outcome = "pass"
	// OutcomeReview means the layer flagged the action for review.
	OutcomeReview Outcome = "review"
	// OutcomeBlock means the layer blocked the action outright.
	OutcomeBlock Outcome = "block"
)

// RequestContext carries the optional fields a caller may attach to a tool
// call request (spec §6 Evaluate context fields).
type RequestContext struct {
	// AgentID identifies the calling agent.
	AgentID string
	// SessionID scopes the request to a causal session, if the caller tracks one.
	SessionID string
	// UserID identifies the human or service principal on whose behalf the agent acts.
	UserID string
	// AllowedTools, when non-empty, is the scope enforcer's allow-list (spec §4.7 layer 3).
	AllowedTools []string
	// TraceID is an externally supplied distributed-trace identifier.
	TraceID string
	// SpanID is an externally supplied distributed-trace span identifier.
	SpanID string
	// ConversationID groups requests from the same agent conversation.
	ConversationID string
	// TurnID identifies the conversation turn this request belongs to.
	TurnID string
	// Prompt is the natural-language instruction that produced this tool call, if known.
	Prompt string
}

// Request is a proposed tool call submitted to Evaluate.
type Request struct {
	// Tool is the name of the tool being invoked.
	Tool string
	// Args is the opaque, possibly-nested argument tree for the call.
	Args map[string]interface{}
	// Context carries the optional request-scoped fields above.
	Context RequestContext
}

// TraceStep is one entry in an Action's execution trace (spec §3 TraceStep).
type TraceStep struct {
	// Layer is the 1-based pipeline layer index (1-6).
	Layer int
	// Name is the symbolic layer name, e.g. "kill_switch", "injection_firewall".
	Name string
	// Outcome is this layer's verdict.
	Outcome Outcome
	// RiskContribution is the signed risk delta this layer contributed.
	RiskContribution int
	// MatchedIDs lists policy/pattern/check ids this layer matched.
	MatchedIDs []string
	// Detail is a short human-readable explanation.
	Detail string
	// DurationMS is how long this layer took to run.
	DurationMS float64
}

// Action is one evaluated tool call, immutable once written (spec §3 Action).
type Action struct {
	// ID is the unique, monotonically-assignable identifier.
	ID string
	// Timestamp is when the call was evaluated (UTC).
	Timestamp time.Time
	// AgentID identifies the calling agent.
	AgentID string
	// SessionID scopes the action to a causal session, if any.
	SessionID string
	// UserID identifies the human or service principal, if any.
	UserID string
	// Tool is the name of the tool invoked.
	Tool string
	// Args is the original, unflattened argument tree.
	Args map[string]interface{}
	// FlattenedArgs is the normalizer's derived, searchable string (spec §4.1).
	FlattenedArgs string
	// Fingerprint is the normalizer's xxhash-64 digest of FlattenedArgs,
	// used by the Chain Analyzer to cheaply rule out exact repeats.
	Fingerprint uint64
	// Decision is the final verdict.
	Decision Decision
	// Risk is the final risk score, 0-100.
	Risk int
	// PolicyIDs is the ordered multiset of matched policy ids.
	PolicyIDs []string
	// ChainPattern is the matched chain-analysis pattern id, if any.
	ChainPattern string
	// Trace is the ordered list of layers actually run.
	Trace []TraceStep
	// TraceID/SpanID/ConversationID are carried through from the request, if present.
	TraceID        string
	SpanID         string
	ConversationID string
	// FeeCharged is the fee amount deducted for this action, if fees are enabled.
	FeeCharged string
	// Degraded is true when a layer ran in a degraded mode (e.g. stale policy cache).
	Degraded bool
}

// Result is the response to an Evaluate call (spec §6 ActionDecision schema).
type Result struct {
	ActionID         string
	Decision         Decision
	RiskScore        int
	Explanation      string
	PolicyIDs        []string
	ChainPattern     string
	ModifiedArgs     map[string]interface{}
	ExecutionTrace   []TraceStep
	Degraded         bool
	PaymentRequired  bool
}
