package environment

import (
	"fmt"
	"strings"
)

// Directive is the per-instrument trade instruction decoded from an action index.
type Directive int

const (
	// Sell liquidates the whole position.
	Sell Directive = iota
	// Hold leaves the instrument untouched.
	Hold
	// Buy purchases whole shares while cash allows.
	Buy
)

// directiveCount is the number of directives per instrument (the action base).
const directiveCount = 3

// String returns a human-readable name for the directive.
func (d Directive) String() string {
	switch d {
	case Sell:
		return "SELL"
	case Hold:
		return "HOLD"
	case Buy:
		return "BUY"
	default:
		return "UNKNOWN"
	}
}

// ActionSpace is the discrete action set for a fixed number of instruments.
//
// Index i decodes to its base-3 digits with instrument 0 as the most significant
// digit, i.e. Cartesian-product order where the last instrument varies fastest.
type ActionSpace struct {
	Instruments int
}

// NewActionSpace returns the action space for n instruments.
func NewActionSpace(n int) ActionSpace {
	return ActionSpace{Instruments: n}
}

// Size returns 3^Instruments.
func (s ActionSpace) Size() int {
	return ActionSpaceSize(s.Instruments)
}

// Contains reports whether the index is a valid action.
func (s ActionSpace) Contains(index int) bool {
	return index >= 0 && index < s.Size()
}

// Decode converts an action index into a directive vector.
func (s ActionSpace) Decode(index int) ([]Directive, error) {
	return DecodeAction(s.Instruments, index)
}

// Encode converts a directive vector back into its action index.
func (s ActionSpace) Encode(directives []Directive) (int, error) {
	if len(directives) != s.Instruments {
		return 0, fmt.Errorf("%w: expected %d directives, got %d", ErrInvalidAction, s.Instruments, len(directives))
	}
	return EncodeAction(directives)
}

// ActionSpaceSize returns the number of actions for n instruments, or 0 when n
// is outside [1, MaxInstruments].
func ActionSpaceSize(n int) int {
	if n < 1 || n > MaxInstruments {
		return 0
	}
	size := 1
	for i := 0; i < n; i++ {
		size *= directiveCount
	}
	return size
}

// DecodeAction decodes an action index for n instruments. It is a pure function
// of (n, index) so agents and tests can decode without an environment.
func DecodeAction(n, index int) ([]Directive, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: instrument count must be positive, got %d", ErrInvalidAction, n)
	}
	if n > MaxInstruments {
		return nil, fmt.Errorf("%w: instrument count %d exceeds %d", ErrInvalidAction, n, MaxInstruments)
	}
	if index < 0 || index >= ActionSpaceSize(n) {
		return nil, fmt.Errorf("%w: index %d outside [0, %d)", ErrInvalidAction, index, ActionSpaceSize(n))
	}

	directives := make([]Directive, n)
	for i := n - 1; i >= 0; i-- {
		directives[i] = Directive(index % directiveCount)
		index /= directiveCount
	}
	return directives, nil
}

// EncodeAction is the inverse of DecodeAction.
func EncodeAction(directives []Directive) (int, error) {
	if len(directives) == 0 {
		return 0, fmt.Errorf("%w: empty directive vector", ErrInvalidAction)
	}

	index := 0
	for i, d := range directives {
		if d < Sell || d > Buy {
			return 0, fmt.Errorf("%w: directive %d at instrument %d", ErrInvalidAction, int(d), i)
		}
		index = index*directiveCount + int(d)
	}
	return index, nil
}

// FormatDirectives renders a directive vector such as "BUY/HOLD/SELL".
func FormatDirectives(directives []Directive) string {
	parts := make([]string, len(directives))
	for i, d := range directives {
		parts[i] = d.String()
	}
	return strings.Join(parts, "/")
}
