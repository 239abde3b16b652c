package wire

import "fmt"

// MessageType is the closed sum of payload kinds the protocol
// exchanges (spec.md §6's message taxonomy table). Representing it as
// a tagged variant keeps RequiresVerification and Replies attributes
// of the type, not of whichever handler function happens to process
// it (spec.md §9).
type MessageType string

const (
	TypeConnect      MessageType = "connect"
	TypeSeed         MessageType = "seed"
	TypeData         MessageType = "data"
	TypeHiddenData   MessageType = "hidden_data"
	TypeCycleContext MessageType = "cycle_context"
	TypeHiddenBill   MessageType = "hidden_bill"
	TypeGetBill      MessageType = "get_bill"
	TypeBill         MessageType = "bill"
)

type variantMeta struct {
	requiresVerification bool
	replies              bool
}

var metadata = map[MessageType]variantMeta{
	TypeConnect:      {requiresVerification: false, replies: false},
	TypeSeed:         {requiresVerification: true, replies: false},
	TypeData:         {requiresVerification: false, replies: false},
	TypeHiddenData:   {requiresVerification: true, replies: false},
	TypeCycleContext: {requiresVerification: false, replies: false},
	TypeHiddenBill:   {requiresVerification: true, replies: false},
	TypeGetBill:      {requiresVerification: false, replies: true},
	TypeBill:         {requiresVerification: false, replies: false},
}

// RequiresVerification reports whether a handler for t must see a
// valid signature before running its body (default true for unknown
// types, fail closed).
func RequiresVerification(t MessageType) bool {
	m, ok := metadata[t]
	if !ok {
		return true
	}
	return m.requiresVerification
}

// Replies reports whether a handler for t produces a synchronous
// reply on the receiving thread, rather than dispatching to the
// worker pool and acknowledging immediately.
func Replies(t MessageType) bool {
	m, ok := metadata[t]
	if !ok {
		return false
	}
	return m.replies
}

// UnknownMessageTypeError is returned when a frame's envelope names a
// type outside the closed taxonomy.
type UnknownMessageTypeError struct {
	Type MessageType
}

func (e UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("wire: unknown message type %q", e.Type)
}

// Validate confirms t is one of the known taxonomy entries.
func (t MessageType) Validate() error {
	if _, ok := metadata[t]; !ok {
		return UnknownMessageTypeError{Type: t}
	}
	return nil
}

// Address is a (host, port) reply address, per spec.md §6.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
