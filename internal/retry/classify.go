package retry

import "strings"

// Class describes how a failure may be retried. A fatal class is never
// retried; otherwise MaxAttempts bounds the total number of attempts
// (first try included). MaxAttempts of 0 means "use the policy default".
type Class struct {
	Fatal       bool
	MaxAttempts int
}

// pattern maps a lowercase substring of an error message to its class.
// First match wins, so fatal patterns are listed before transient ones.
type pattern struct {
	substr string
	class  Class
}

var patterns = []pattern{
	// Credential and database problems do not heal with time. Surface
	// them on the first attempt so the operator sees them immediately.
	{"unauthorized", Class{Fatal: true}},
	{"authentication failed", Class{Fatal: true}},
	{"authorization failed", Class{Fatal: true}},
	{"forbidden", Class{Fatal: true}},
	{"permission denied", Class{Fatal: true}},
	{"database not found", Class{Fatal: true}},
	{"invalid database", Class{Fatal: true}},

	// Transient network failures, each with its own attempt bound.
	{"connection refused", Class{MaxAttempts: 10}},
	{"no such host", Class{MaxAttempts: 5}},
	{"no usable hosts", Class{MaxAttempts: 10}},
	{"i/o timeout", Class{MaxAttempts: 8}},
	{"deadline exceeded", Class{MaxAttempts: 8}},
	{"connection reset", Class{MaxAttempts: 10}},
	{"broken pipe", Class{MaxAttempts: 10}},
}

// Classify maps a failure to its retry class by message pattern.
// Unrecognized errors fall back to the generic policy bound.
func Classify(err error) Class {
	if err == nil {
		return Class{}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p.substr) {
			return p.class
		}
	}
	return Class{}
}
