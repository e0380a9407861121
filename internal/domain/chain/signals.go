package chain

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/risk"
)

// systemPathPrefixes flags a file_write as touching a system path for the
// privilege-escalation pattern.
var systemPathPrefixes = []string{"/etc/", "/usr/", "/bin/", "/sbin/", "/boot/", "/sys/", `c:\windows`, `c:\program files`}

// envConfigKeywords flags a file_read as an environment/config probe for
// the env-recon pattern.
var envConfigKeywords = []string{".env", "/etc/", "environ", "config", ".aws/credentials", ".ssh/config"}

// privilegedTokens flags prior privilege-escalation attempts.
var privilegedTokens = []string{"sudo ", "su -", "runas", "administrator", "chmod +s", "setuid"}

// Signals is the feature set extracted once per Analyze call; every CEL
// pattern expression is evaluated against its Activation() view.
type Signals struct {
	PriorActionCount         int
	BlockedScopeCount        int
	CredentialMatchCount     int
	HasPriorCredentialMatch  bool
	IsNetworkSend            bool
	HasPriorPrivilegedToken  bool
	IsShellOrSystemWrite     bool
	ReadWriteExecSequence    bool
	CredentialReadAgeMinutes float64
	IsOutboundSend           bool
	HasSimilarBlocked        bool
	PriorFileReadBeforeSend  int
	PriorHTTPGetLike         bool
	IsMessagingSend          bool
	PriorEnvReadCount        int
	IsAnyWrite               bool
	DistinctToolsLast6       int
}

// Activation converts Signals into the map[string]interface{} activation a
// compiled CEL program evaluates against. Field names match Patterns'
// Expression variable names exactly.
func (s Signals) Activation() map[string]interface{} {
	return map[string]interface{}{
		"prior_action_count":          s.PriorActionCount,
		"blocked_scope_count":         s.BlockedScopeCount,
		"credential_match_count":      s.CredentialMatchCount,
		"has_prior_credential_match":  s.HasPriorCredentialMatch,
		"is_network_send":             s.IsNetworkSend,
		"has_prior_privileged_token":  s.HasPriorPrivilegedToken,
		"is_shell_or_system_write":    s.IsShellOrSystemWrite,
		"read_write_exec_sequence":    s.ReadWriteExecSequence,
		"credential_read_age_minutes": s.CredentialReadAgeMinutes,
		"is_outbound_send":            s.IsOutboundSend,
		"has_similar_blocked":         s.HasSimilarBlocked,
		"prior_file_read_before_send": s.PriorFileReadBeforeSend,
		"prior_http_get_like":         s.PriorHTTPGetLike,
		"is_messaging_send":           s.IsMessagingSend,
		"prior_env_read_count":        s.PriorEnvReadCount,
		"is_any_write":                s.IsAnyWrite,
		"distinct_tools_last6":        s.DistinctToolsLast6,
	}
}

// Current carries the pieces of the in-flight request the extractor needs
// alongside session history; it mirrors the fields of action.Action that
// exist before an id is assigned.
type Current struct {
	Tool          string
	FlattenedArgs string
	Fingerprint   uint64
}

// Extract computes Signals from session history (oldest-first, per spec
// §4.4) and the current request.
func Extract(history []action.Action, cur Current) Signals {
	var s Signals
	s.PriorActionCount = len(history)
	s.IsNetworkSend = cur.Tool == "http_request" || cur.Tool == "messaging_send"
	s.IsOutboundSend = s.IsNetworkSend
	s.IsMessagingSend = cur.Tool == "messaging_send"
	s.IsAnyWrite = cur.Tool == "file_write"
	s.IsShellOrSystemWrite = cur.Tool == "shell" || (cur.Tool == "file_write" && touchesSystemPath(cur.FlattenedArgs))
	s.CredentialReadAgeMinutes = -1

	var readSeen, writeSeen bool
	var credentialReadAt time.Time
	var haveCredentialReadAt bool
	now := time.Now()

	for _, a := range history {
		lower := strings.ToLower(a.FlattenedArgs)

		if a.Decision == action.DecisionBlock {
			for _, step := range a.Trace {
				if step.Name == "scope_enforcer" && step.Outcome == action.OutcomeBlock {
					s.BlockedScopeCount++
					break
				}
			}
			if !s.HasSimilarBlocked && similarToCurrent(a, cur) {
				s.HasSimilarBlocked = true
			}
		}

		if risk.HasCredentialKeyword(lower) {
			s.CredentialMatchCount++
			s.HasPriorCredentialMatch = true
			if a.Tool == "file_read" && !haveCredentialReadAt {
				credentialReadAt = a.Timestamp
				haveCredentialReadAt = true
			}
		}

		if containsAny(lower, privilegedTokens) {
			s.HasPriorPrivilegedToken = true
		}

		switch a.Tool {
		case "file_read":
			if !writeSeen {
				readSeen = true
			}
			if s.IsOutboundSend {
				s.PriorFileReadBeforeSend++
			}
			if containsAny(lower, envConfigKeywords) {
				s.PriorEnvReadCount++
			}
		case "file_write":
			if readSeen {
				writeSeen = true
			}
		case "shell":
			if readSeen && writeSeen {
				s.ReadWriteExecSequence = true
			}
		case "http_request":
			if !looksLikeWrite(lower) {
				s.PriorHTTPGetLike = true
			}
		}
	}

	// The exec step of read-write-exec is usually the in-flight request
	// itself (spec §4.5 min-prior-2: read+write in history, exec now), not
	// a third history entry — a shell (or system-path write) landing on
	// top of a read+write history still completes the pattern.
	if readSeen && writeSeen && s.IsShellOrSystemWrite {
		s.ReadWriteExecSequence = true
	}

	if haveCredentialReadAt {
		s.CredentialReadAgeMinutes = now.Sub(credentialReadAt).Minutes()
	}

	s.DistinctToolsLast6 = distinctToolsLastN(history, cur.Tool, 6)

	return s
}

func touchesSystemPath(flattened string) bool {
	lower := strings.ToLower(flattened)
	return containsAny(lower, systemPathPrefixes)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func looksLikeWrite(lowerArgs string) bool {
	return strings.Contains(lowerArgs, "post") || strings.Contains(lowerArgs, "put") || strings.Contains(lowerArgs, "\"body\"")
}

// similarToCurrent implements the block-bypass-retry comparison: the
// current (tool, flattened args) differs in <=3 Levenshtein edits from a
// previously blocked one. An xxhash fingerprint equality short-circuits
// the common exact-repeat case before paying for edit-distance.
func similarToCurrent(prior action.Action, cur Current) bool {
	if prior.Tool != cur.Tool {
		return false
	}
	if prior.Fingerprint != 0 && cur.Fingerprint != 0 && prior.Fingerprint == cur.Fingerprint {
		return true
	}
	priorCanon := prior.Tool + "|" + prior.FlattenedArgs
	curCanon := cur.Tool + "|" + cur.FlattenedArgs
	// Cheap length pre-filter: a Levenshtein distance can never be smaller
	// than the length difference, so skip the full comparison when that
	// alone already exceeds the threshold.
	if abs(len(priorCanon)-len(curCanon)) > 3 {
		return false
	}
	return levenshtein.ComputeDistance(priorCanon, curCanon) <= 3
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func distinctToolsLastN(history []action.Action, currentTool string, n int) int {
	tools := make([]string, 0, n)
	start := len(history) - (n - 1)
	if start < 0 {
		start = 0
	}
	for _, a := range history[start:] {
		tools = append(tools, a.Tool)
	}
	tools = append(tools, currentTool)
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		seen[t] = struct{}{}
	}
	return len(seen)
}
