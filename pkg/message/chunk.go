package message

// Chunk is an immutable piece of a message body.
//
// Copying a Chunk value shares the underlying bytes, so handing the same chunk to many
// subscribers costs one slice header per subscriber, never a copy of the payload.
type Chunk struct {
	data []byte
}

// NewChunk creates a Chunk from p. The bytes are copied once so later changes to p by the
// caller cannot leak into subscribers.
func NewChunk(p []byte) Chunk {
	data := make([]byte, len(p))
	copy(data, p)
	return Chunk{data: data}
}

// ChunkString creates a Chunk holding s.
func ChunkString(s string) Chunk {
	return Chunk{data: []byte(s)}
}

// Bytes returns the chunk contents. The slice is shared with every other holder of this
// chunk and must not be modified.
func (c Chunk) Bytes() []byte {
	return c.data
}

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int {
	return len(c.data)
}

// String returns the chunk contents as a string.
func (c Chunk) String() string {
	return string(c.data)
}
