package oto

import (
	"fmt"
	"strings"
)

// Rule names an ordering rule an entry must satisfy.
type Rule string

const (
	RuleOffsetNonNegative   Rule = "offset_non_negative"
	RuleOffsetBeforePre     Rule = "offset_before_preutterance"
	RuleOverlapNonNegative  Rule = "overlap_non_negative"
	RuleGoldenRule          Rule = "overlap_not_after_preutterance"
	RulePreBeforeConsonant  Rule = "preutterance_not_after_consonant"
	RuleCutoffNonPositive   Rule = "cutoff_non_positive"
	RuleConsonantBeforeTail Rule = "consonant_not_after_cutoff"
)

// ValidationError reports the first rule an entry violates.
type ValidationError struct {
	Rule   Rule
	Marker Marker
	Value  int64
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("oto: %s = %d violates %s: %s", e.Marker, e.Value, e.Rule, e.Detail)
}

// Validate checks e against a take of duration samples:
//
//	0 <= offset < preutterance <= consonant <= duration - |cutoff|
//	0 <= overlap <= preutterance
//	cutoff <= 0
func Validate(e Entry, duration int64) error {
	switch {
	case e.Offset < 0:
		return &ValidationError{RuleOffsetNonNegative, MarkerOffset, e.Offset, "offset is negative"}
	case e.Offset >= e.PreUtterance:
		return &ValidationError{RuleOffsetBeforePre, MarkerOffset, e.Offset,
			fmt.Sprintf("offset must be before preutterance %d", e.PreUtterance)}
	case e.Overlap < 0:
		return &ValidationError{RuleOverlapNonNegative, MarkerOverlap, e.Overlap, "overlap is negative"}
	case e.Overlap > e.PreUtterance:
		return &ValidationError{RuleGoldenRule, MarkerOverlap, e.Overlap,
			fmt.Sprintf("overlap must not exceed preutterance %d", e.PreUtterance)}
	case e.PreUtterance > e.Consonant:
		return &ValidationError{RulePreBeforeConsonant, MarkerPreUtterance, e.PreUtterance,
			fmt.Sprintf("preutterance must not exceed consonant %d", e.Consonant)}
	case e.Cutoff > 0:
		return &ValidationError{RuleCutoffNonPositive, MarkerCutoff, e.Cutoff, "cutoff must be measured from the end"}
	case e.Consonant > e.CutoffPosition(duration):
		return &ValidationError{RuleConsonantBeforeTail, MarkerConsonant, e.Consonant,
			fmt.Sprintf("consonant must not pass cutoff position %d", e.CutoffPosition(duration))}
	}
	return nil
}

// Policy decides what happens to an edit that breaks the Golden Rule.
type Policy int

const (
	// PolicyReject refuses the edit and keeps the current entry.
	PolicyReject Policy = iota
	// PolicyClamp pulls overlap down to preutterance instead of refusing.
	// Every other violation is still refused.
	PolicyClamp
)

func (p Policy) String() string {
	if p == PolicyClamp {
		return "clamp"
	}
	return "reject"
}

// ParsePolicy parses "reject" or "clamp". The empty string means reject.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "reject":
		return PolicyReject, nil
	case "clamp":
		return PolicyClamp, nil
	}
	return 0, fmt.Errorf("oto: unknown validation policy %q", s)
}

// Apply sets marker m of current to v. On success the updated entry is
// returned. On a violation current is returned unchanged together with the
// *ValidationError.
func Apply(current Entry, m Marker, v, duration int64, policy Policy) (Entry, error) {
	next := current.With(m, v)
	if policy == PolicyClamp {
		switch {
		case m == MarkerOverlap && next.Overlap > next.PreUtterance:
			next.Overlap = next.PreUtterance
		case m == MarkerPreUtterance && next.Overlap > next.PreUtterance:
			next.Overlap = next.PreUtterance
		}
	}
	if err := Validate(next, duration); err != nil {
		return current, err
	}
	return next, nil
}

// MoveAll shifts offset, overlap, preutterance and consonant by delta
// samples together. Cutoff stays anchored to the end. The shifted entry is
// validated as a whole.
func MoveAll(current Entry, delta, duration int64) (Entry, error) {
	next := current
	next.Offset += delta
	next.Overlap += delta
	next.PreUtterance += delta
	next.Consonant += delta
	if err := Validate(next, duration); err != nil {
		return current, err
	}
	return next, nil
}
