package value

import "strconv"

// String, Symbol and Keyword are the three immutable byte-string flavors
// named by spec §3, distinguished only by their Type() tag. Each wraps a Go
// string directly, following the one-primitive-per-file convention the
// teacher runtime uses for Bool/Int (lang/types/bool.go, int.go).
type (
	String  string
	Symbol  string
	Keyword string
)

var (
	_ Ordered = String("")
	_ Ordered = Symbol("")
	_ Ordered = Keyword("")
)

func (s String) String() string  { return strconv.Quote(string(s)) }
func (s String) Type() string    { return TypeString }
func (s String) Truth() Bool     { return len(s) > 0 }
func (s String) Len() int        { return len(s) }
func (s String) Bytes() []byte   { return []byte(s) }
func (s String) Cmp(y Value, d int) (int, error) { return cmpBytes(string(s), y, TypeString) }

func (s Symbol) String() string { return string(s) }
func (s Symbol) Type() string   { return TypeSymbol }
func (s Symbol) Truth() Bool    { return len(s) > 0 }
func (s Symbol) Len() int       { return len(s) }
func (s Symbol) Bytes() []byte  { return []byte(s) }
func (s Symbol) Cmp(y Value, d int) (int, error) { return cmpBytes(string(s), y, TypeSymbol) }

func (s Keyword) String() string { return ":" + string(s) }
func (s Keyword) Type() string   { return TypeKeyword }
func (s Keyword) Truth() Bool    { return len(s) > 0 }
func (s Keyword) Len() int       { return len(s) }
func (s Keyword) Bytes() []byte  { return []byte(s) }
func (s Keyword) Cmp(y Value, d int) (int, error) { return cmpBytes(string(s), y, TypeKeyword) }

func cmpBytes(s string, y Value, wantType string) (int, error) {
	var s2 string
	switch wantType {
	case TypeString:
		v, err := requireType[String](y, wantType)
		if err != nil {
			return 0, err
		}
		s2 = string(v)
	case TypeSymbol:
		v, err := requireType[Symbol](y, wantType)
		if err != nil {
			return 0, err
		}
		s2 = string(v)
	case TypeKeyword:
		v, err := requireType[Keyword](y, wantType)
		if err != nil {
			return 0, err
		}
		s2 = string(v)
	}
	switch {
	case s < s2:
		return -1, nil
	case s > s2:
		return +1, nil
	default:
		return 0, nil
	}
}
