package policy

import (
	"regexp"
	"sync"
)

// regexCache memoizes compiled patterns so repeated Matches calls against
// the same policy don't recompile its regex on every request, mirroring the
// compile-once-reuse discipline the CEL evaluator applies to its programs.
var regexCache sync.Map // map[string]*regexp.Regexp

// compile validates pattern at write time and returns the same *regexp.Regexp
// on every subsequent call with the same pattern.
func compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// Validate compiles every regex field of p, returning an error that wraps
// ErrInvalidPolicy if any fails. Called by the store on create/patch.
func (p Policy) Validate() error {
	if p.ID == "" {
		return newInvalid("policy id is required")
	}
	if p.ToolPattern == "" {
		return newInvalid("tool pattern is required")
	}
	if _, err := compile(p.URLRegex); err != nil {
		return newInvalid("url_regex: " + err.Error())
	}
	if _, err := compile(p.ArgsRegex); err != nil {
		return newInvalid("args_regex: " + err.Error())
	}
	return nil
}

// MatchInput carries the pieces of a request a Policy needs to decide
// whether it applies (spec §4.2 Matching).
type MatchInput struct {
	Tool          string
	FlattenedArgs string
	// URL is the args.url scalar if present, otherwise the first
	// destination found in the argument tree, if any.
	URL string
}

// Matches reports whether p applies to in, per spec §4.2:
// (a) tool pattern is "*" or equals the tool name;
// (b) if url_regex is present, it matches URL;
// (c) if args_regex is present, it matches FlattenedArgs.
func (p Policy) Matches(in MatchInput) bool {
	if !p.Active {
		return false
	}
	if p.ToolPattern != "*" && p.ToolPattern != in.Tool {
		return false
	}
	if p.URLRegex != "" {
		re, err := compile(p.URLRegex)
		if err != nil || re == nil || !re.MatchString(in.URL) {
			return false
		}
	}
	if p.ArgsRegex != "" {
		re, err := compile(p.ArgsRegex)
		if err != nil || re == nil || !re.MatchString(in.FlattenedArgs) {
			return false
		}
	}
	return true
}
