package value

import "strconv"

// Number is the type of the single numeric kind the value model supports: a
// 64-bit IEEE 754 float, per spec §3. The host runtime's numeric tower (e.g.
// distinguishing integers) is out of scope.
type Number float64

var _ Ordered = Number(0)

func (n Number) String() string { return strconv.FormatFloat(float64(n), 'g', -1, 64) }
func (n Number) Type() string   { return TypeNumber }
func (n Number) Truth() Bool    { return Bool(n != 0) }

func (n Number) Cmp(y Value, depth int) (int, error) {
	n2, err := requireType[Number](y, TypeNumber)
	if err != nil {
		return 0, err
	}
	switch {
	case n < n2:
		return -1, nil
	case n > n2:
		return +1, nil
	default:
		return 0, nil
	}
}

// Int32 reports whether n is exactly representable as a 32-bit signed
// integer, and if so returns that value. Used by the marshaller's compact
// INTEGER encoding (spec §4.6).
func (n Number) Int32() (int32, bool) {
	i := int32(n)
	if Number(i) == n {
		return i, true
	}
	return 0, false
}
