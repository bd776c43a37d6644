package keyrange

import (
	"errors"
	"fmt"
)

// ErrInverted is returned when a bounded range would have min > max.
var ErrInverted = errors.New("keyrange: min greater than max")

// Range is a closed string interval, possibly unbounded above. The zero
// value is invalid: In reports false for every key until the range is set.
//
// Range is a plain value with no internal locking; owners that share one
// across goroutines guard it with their own mutex, the same way they guard
// the key map it gates.
type Range struct {
	min       string
	max       string
	unlimited bool
	valid     bool
}

// New returns a bounded range [min, max], or an unlimited range [min, ∞)
// when unlimited is true (max is ignored in that case). It returns
// ErrInverted when a bounded range would be empty-ordered.
func New(min, max string, unlimited bool) (Range, error) {
	var r Range
	if err := r.SetMinMax(min, max, unlimited); err != nil {
		return Range{}, err
	}
	return r, nil
}

// SetMinMax replaces the range bounds. For a bounded range min must not
// exceed max; an unlimited range keeps max only as informational (the
// largest value seen when the range was built). The range becomes valid on
// success and is unchanged on failure.
func (r *Range) SetMinMax(min, max string, unlimited bool) error {
	if unlimited {
		if max < min {
			max = min
		}
		r.min, r.max, r.unlimited, r.valid = min, max, true, true
		return nil
	}
	if min > max {
		return fmt.Errorf("%w: %q > %q", ErrInverted, min, max)
	}
	r.min, r.max, r.unlimited, r.valid = min, max, false, true
	return nil
}

// SetAllInclusive makes the range cover the entire keyspace: min "" and no
// upper bound. This is the bootstrap range for the first worker.
func (r *Range) SetAllInclusive() {
	r.min, r.max, r.unlimited, r.valid = "", "", true, true
}

// In reports whether the range contains key: the range is valid,
// key ≥ min, and either the range is unlimited or key ≤ max.
func (r Range) In(key string) bool {
	if !r.valid || key < r.min {
		return false
	}
	return r.unlimited || key <= r.max
}

// Valid reports whether the range has been set.
func (r Range) Valid() bool { return r.valid }

// Unlimited reports whether the range has no upper bound.
func (r Range) Unlimited() bool { return r.unlimited }

// Min returns the inclusive lower bound.
func (r Range) Min() string { return r.min }

// Max returns the inclusive upper bound; meaningless when Unlimited.
func (r Range) Max() string { return r.max }

// String formats the range for logs.
func (r Range) String() string {
	if !r.valid {
		return "range(invalid)"
	}
	if r.unlimited {
		return fmt.Sprintf("range[%q, ∞)", r.min)
	}
	return fmt.Sprintf("range[%q, %q]", r.min, r.max)
}
