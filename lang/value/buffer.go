package value

import "fmt"

// Buffer is a mutable byte sequence, the mutable counterpart of String. It
// is a marshal/unmarshal wire variant in its own right (spec §4.6) and holds
// the PEG compiler's 256-bit set masks.
type Buffer struct {
	data   []byte
	frozen bool
}

var _ Value = (*Buffer)(nil)

// NewBuffer returns a buffer initialized with a copy of b.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{data: append([]byte(nil), b...)}
}

func (b *Buffer) String() string { return fmt.Sprintf("@%q", string(b.data)) }
func (b *Buffer) Type() string   { return TypeBuffer }
func (b *Buffer) Truth() Bool    { return Bool(len(b.data) > 0) }
func (b *Buffer) Len() int       { return len(b.data) }
func (b *Buffer) Bytes() []byte  { return b.data }

func (b *Buffer) Freeze() { b.frozen = true }

func (b *Buffer) Push(p []byte) error {
	if b.frozen {
		return fmt.Errorf("cannot push to frozen buffer")
	}
	b.data = append(b.data, p...)
	return nil
}

func (b *Buffer) Clear() error {
	if b.frozen {
		return fmt.Errorf("cannot clear frozen buffer")
	}
	b.data = b.data[:0]
	return nil
}

// Truncate resets the buffer to length n, discarding bytes past it.
func (b *Buffer) Truncate(n int) error {
	if b.frozen {
		return fmt.Errorf("cannot truncate frozen buffer")
	}
	if n < 0 || n > len(b.data) {
		return fmt.Errorf("buffer: truncate index %d out of range [0, %d]", n, len(b.data))
	}
	b.data = b.data[:n]
	return nil
}
