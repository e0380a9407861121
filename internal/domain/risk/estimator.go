// Package risk implements the Risk Estimator (C3): a deterministic,
// heuristic scoring function from tool kind, sensitive keywords, and
// argument cardinality. No ML inference is performed (spec §1 Non-goals).
package risk

import (
	"regexp"
	"strings"
)

// toolClassBaseRisk is the open, extensible mapping from tool name to base
// risk (spec §4.3). Unknown tools fall back to unknownToolRisk.
var toolClassBaseRisk = map[string]int{
	"shell":          60,
	"http_request":   30,
	"file_write":     40,
	"file_read":      15,
	"messaging_send": 25,
}

const unknownToolRisk = 20

// credentialKeywords are scanned case-insensitively against the flattened
// arg string, adapted from the teacher's response-scanner credential
// taxonomy (internal/domain/action/response_scanner.go).
var credentialKeywords = []string{
	"password", "passwd", "secret", "api_key", "apikey", "private_key",
	"access_token", "auth_token", "bearer ", "ssh-rsa", "-----begin",
}

// destructiveKeywords flag commands that destroy data or state.
var destructiveKeywords = []string{
	"rm -rf", "drop table", "mkfs", "shutdown", "format c:", ":(){ :|:& };:",
}

// domainLikePattern matches bare domain-like tokens (e.g. evil.example.com)
// in the flattened arg string, used for the network-exfil bonus.
var domainLikePattern = regexp.MustCompile(`\b[a-z0-9][a-z0-9\-]*(?:\.[a-z0-9][a-z0-9\-]*)+\.[a-z]{2,}\b`)

const (
	credentialBonus   = 25
	destructiveBonus  = 30
	networkExfilBonus = 15
	cardinalityBonus  = 15
	cardinalityMin    = 10
	maxRisk           = 100
)

// Detail records which heuristics fired, for the TraceStep.Detail /
// MatchedIDs fields the Pipeline Orchestrator attaches to its trace.
type Detail struct {
	BaseRisk            int
	MatchedCredential   bool
	MatchedDestructive  bool
	MatchedNetworkExfil bool
	MatchedCardinality  bool
	Reasons             []string
}

// Estimate computes the base risk for a proposed tool call. allowlist holds
// internal domains that are exempt from the network-exfil bonus.
func Estimate(tool string, flattenedArgs string, args map[string]interface{}, allowlist []string) (int, Detail) {
	base, known := toolClassBaseRisk[tool]
	if !known {
		base = unknownToolRisk
	}

	d := Detail{BaseRisk: base}
	risk := base

	lower := strings.ToLower(flattenedArgs)

	if HasCredentialKeyword(lower) {
		d.MatchedCredential = true
		d.Reasons = append(d.Reasons, "credential keyword")
		risk += credentialBonus
	}
	if HasDestructiveKeyword(lower) {
		d.MatchedDestructive = true
		d.Reasons = append(d.Reasons, "destructive keyword")
		risk += destructiveBonus
	}
	if hasNetworkExfilDomain(lower, allowlist) {
		d.MatchedNetworkExfil = true
		d.Reasons = append(d.Reasons, "network exfil domain")
		risk += networkExfilBonus
	}
	if hasHighCardinalityRecipients(args) {
		d.MatchedCardinality = true
		d.Reasons = append(d.Reasons, "recipient cardinality")
		risk += cardinalityBonus
	}

	if risk > maxRisk {
		risk = maxRisk
	}
	return risk, d
}

// HasCredentialKeyword reports whether s (expected lowercased) contains a
// credential token. Exported for reuse by the Chain Analyzer's
// multi-cred-harvest/credential-then-http patterns and the Verification
// Engine's credential-scan check.
func HasCredentialKeyword(lower string) bool {
	for _, kw := range credentialKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// HasDestructiveKeyword reports whether s (expected lowercased) contains a
// destructive-operation token.
func HasDestructiveKeyword(lower string) bool {
	for _, kw := range destructiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func hasNetworkExfilDomain(lower string, allowlist []string) bool {
	matches := domainLikePattern.FindAllString(lower, -1)
	if len(matches) == 0 {
		return false
	}
	for _, m := range matches {
		if !isAllowlisted(m, allowlist) {
			return true
		}
	}
	return false
}

func isAllowlisted(domain string, allowlist []string) bool {
	for _, a := range allowlist {
		a = strings.ToLower(a)
		if domain == a || strings.HasSuffix(domain, "."+a) {
			return true
		}
	}
	return false
}

func hasHighCardinalityRecipients(args map[string]interface{}) bool {
	for _, key := range []string{"recipients", "to"} {
		v, ok := args[key]
		if !ok {
			continue
		}
		if list, ok := v.([]interface{}); ok && len(list) >= cardinalityMin {
			return true
		}
	}
	return false
}
