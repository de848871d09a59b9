package message

// Kind tells the connection layer how to frame a message on the wire.
type Kind int

const (
	// KindText is a UTF-8 text message.
	KindText Kind = iota
	// KindBinary is an opaque binary message.
	KindBinary
)

// String returns "text" or "binary".
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Header carries everything about a message except its topic and body.
type Header struct {
	Kind     Kind
	Metadata map[string]string
}

// Clone returns a copy of h that shares nothing mutable with it.
func (h Header) Clone() Header {
	out := Header{Kind: h.Kind}
	if h.Metadata != nil {
		out.Metadata = make(map[string]string, len(h.Metadata))
		for k, v := range h.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
