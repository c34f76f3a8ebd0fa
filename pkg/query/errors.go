package query

import "errors"

// ErrParse wraps every syntax error ParseQuery returns, letting callers
// (pkg/api) distinguish a malformed query string from other failures
// without string-matching the message.
var ErrParse = errors.New("query: parse error")

// ErrFeatureNotDeclared wraps CheckFeatures' failures: an endpoint
// restriction, a used-but-undeclared feature, or a missing alpha token.
var ErrFeatureNotDeclared = errors.New("query: feature gating error")
