package cel

import "github.com/google/cel-go/cel"

// newSignalsEnv declares every variable chain.Signals.Activation exposes.
// Keep this in lockstep with that method — a name drift here surfaces as a
// CEL compile error at NewChainEvaluator time, not a silent false negative.
func newSignalsEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("prior_action_count", cel.IntType),
		cel.Variable("blocked_scope_count", cel.IntType),
		cel.Variable("credential_match_count", cel.IntType),
		cel.Variable("has_prior_credential_match", cel.BoolType),
		cel.Variable("is_network_send", cel.BoolType),
		cel.Variable("has_prior_privileged_token", cel.BoolType),
		cel.Variable("is_shell_or_system_write", cel.BoolType),
		cel.Variable("read_write_exec_sequence", cel.BoolType),
		cel.Variable("credential_read_age_minutes", cel.DoubleType),
		cel.Variable("is_outbound_send", cel.BoolType),
		cel.Variable("has_similar_blocked", cel.BoolType),
		cel.Variable("prior_file_read_before_send", cel.IntType),
		cel.Variable("prior_http_get_like", cel.BoolType),
		cel.Variable("is_messaging_send", cel.BoolType),
		cel.Variable("prior_env_read_count", cel.IntType),
		cel.Variable("is_any_write", cel.BoolType),
		cel.Variable("distinct_tools_last6", cel.IntType),
	)
}
