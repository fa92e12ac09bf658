package value

import "fmt"

// FiberStatus is the lifecycle state of a Fiber.
type FiberStatus uint8

const (
	FiberStatusNew FiberStatus = iota
	FiberStatusAlive
	FiberStatusSuspended
	FiberStatusDead
	FiberStatusError
)

// FiberFrame is one activation record of a suspended Fiber's call stack, in
// parent-to-child order, grounded on the teacher runtime's call-stack frame
// (lang/machine's Thread.callStack) but holding only what the marshaller
// needs to walk and reconstruct a suspended stack (spec §4.6): the function
// that was running, its captured environment if it has one, and its locals.
type FiberFrame struct {
	Func   *Function // nil if this frame ran a CFunction (marshal fails, spec §4.6)
	CFunc  *CFunction
	Env    *Environment // nil if the frame captured no environment
	Locals []Value
	PC     uint32
}

// Fiber is a suspended call stack: the unit of cooperative execution the
// marshaller must be able to serialize (spec §4.6). Building and resuming a
// fiber's execution is the responsibility of the host runtime; this package
// only models the data a marshaller needs.
type Fiber struct {
	Status FiberStatus
	Frames []FiberFrame
	// FramePointer is the index of the topmost active frame in Frames.
	FramePointer int
}

var _ Value = (*Fiber)(nil)

func (f *Fiber) String() string { return fmt.Sprintf("@fiber(%p)", f) }
func (f *Fiber) Type() string   { return TypeFiber }
func (f *Fiber) Truth() Bool    { return True }

// Alive reports whether the fiber is currently running, which makes it
// unmarshalable (spec §4.6's "alive fiber" error category).
func (f *Fiber) Alive() bool { return f.Status == FiberStatusAlive }
