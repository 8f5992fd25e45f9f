package referral

import (
	"fmt"
	"strings"
)

// Strategy kinds accepted by StrategySpec.
const (
	KindPercent   = "percent"
	KindDuration  = "duration"
	KindLoyalty   = "loyalty"
	KindAllowlist = "allowlist"
)

// StrategySpec is the declarative form of a strategy tree, as found in
// configuration files:
//
//	kind: allowlist
//	inner:
//	  kind: duration
//	  inner:
//	    kind: percent
//	    bps: 500
type StrategySpec struct {
	Kind  string        `yaml:"kind" toml:"kind" json:"kind"`
	Bps   uint32        `yaml:"bps,omitempty" toml:"bps,omitempty" json:"bps,omitempty"`
	Inner *StrategySpec `yaml:"inner,omitempty" toml:"inner,omitempty" json:"inner,omitempty"`
}

// Build instantiates the strategy tree described by the spec.
func (s *StrategySpec) Build() (Strategy, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: empty spec", ErrInvalidStrategy)
	}
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	switch kind {
	case KindPercent:
		if s.Inner != nil {
			return nil, fmt.Errorf("%w: %s does not wrap", ErrInvalidStrategy, kind)
		}
		p, err := NewPercent(s.Bps)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindLoyalty:
		if s.Inner != nil {
			return nil, fmt.Errorf("%w: %s does not wrap", ErrInvalidStrategy, kind)
		}
		return NewLoyalty(), nil
	case KindDuration, KindAllowlist:
		if s.Inner == nil {
			return nil, fmt.Errorf("%w: %s requires an inner strategy", ErrInvalidStrategy, kind)
		}
		inner, err := s.Inner.Build()
		if err != nil {
			return nil, err
		}
		if kind == KindDuration {
			return &DurationGated{inner: inner}, nil
		}
		return &AllowlistGated{inner: inner}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidStrategy, s.Kind)
	}
}

// Describe renders a strategy tree, e.g. "allowlist(duration(percent(500)))".
func Describe(s Strategy) string {
	switch v := s.(type) {
	case nil:
		return "none"
	case *Percent:
		return fmt.Sprintf("%s(%d)", KindPercent, v.Bps())
	case *Loyalty:
		return KindLoyalty
	case *DurationGated:
		return KindDuration + "(" + Describe(v.Unwrap()) + ")"
	case *AllowlistGated:
		return KindAllowlist + "(" + Describe(v.Unwrap()) + ")"
	default:
		if w, ok := s.(Wrapper); ok {
			return fmt.Sprintf("%T(%s)", s, Describe(w.Unwrap()))
		}
		return fmt.Sprintf("%T", s)
	}
}
