package models

import "strings"

// Verdict is the validation state persisted in a station file header.
type Verdict string

const (
	VerdictUnset         Verdict = ""
	VerdictGood          Verdict = "good"
	VerdictBad           Verdict = "bad"
	VerdictUnreachable   Verdict = "unreachable"
	VerdictFailedRequest Verdict = "failed-request"
	VerdictUse           Verdict = "use"
	VerdictShelf         Verdict = "shelf"
	VerdictUnsupported   Verdict = "unsupported"
)

var knownVerdicts = map[Verdict]struct{}{
	VerdictGood:          {},
	VerdictBad:           {},
	VerdictUnreachable:   {},
	VerdictFailedRequest: {},
	VerdictUse:           {},
	VerdictShelf:         {},
	VerdictUnsupported:   {},
}

// ParseVerdict normalises a verdict as it appears after the header marker.
// Older files spell failed-request with a space. Unknown values are returned
// lowercased with ok set to false.
func ParseVerdict(value string) (Verdict, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || value == "unset" {
		return VerdictUnset, true
	}
	value = strings.Join(strings.Fields(value), "-")
	v := Verdict(value)
	_, ok := knownVerdicts[v]
	return v, ok
}

// String returns "unset" for the empty verdict.
func (v Verdict) String() string {
	if v == VerdictUnset {
		return "unset"
	}
	return string(v)
}

// Flagged reports whether the verdict marks a station as not working.
func (v Verdict) Flagged() bool {
	switch v {
	case VerdictBad, VerdictUnreachable, VerdictFailedRequest, VerdictUnsupported:
		return true
	}
	return false
}
