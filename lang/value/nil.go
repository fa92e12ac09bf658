package value

// NilType is the type of the single Nil value.
type NilType struct{}

// Nil is the canonical nil value.
var Nil = NilType{}

var _ Value = Nil

func (NilType) String() string { return "nil" }
func (NilType) Type() string   { return TypeNil }
func (NilType) Truth() Bool    { return False }
