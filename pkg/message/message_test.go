package message

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
)

func TestNewChunk_CopiesInput(t *testing.T) {
	src := []byte("payload")
	c := NewChunk(src)
	src[0] = 'X'

	assert.Equal(t, "payload", c.String())
	assert.Equal(t, 7, c.Len())
}

func TestChunk_CopiesShareBytes(t *testing.T) {
	c1 := NewChunk([]byte("shared"))
	c2 := c1

	assert.Same(t, &c1.Bytes()[0], &c2.Bytes()[0])
}

func TestHeader_Clone(t *testing.T) {
	h := Header{Kind: KindBinary, Metadata: map[string]string{"content-type": "image/png"}}
	clone := h.Clone()
	clone.Metadata["content-type"] = "text/plain"

	assert.Equal(t, KindBinary, clone.Kind)
	assert.Equal(t, "image/png", h.Metadata["content-type"])

	assert.Nil(t, Header{}.Clone().Metadata)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "binary", KindBinary.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestText(t *testing.T) {
	m := Text("hi")

	assert.Equal(t, KindText, m.Header().Kind)
	_, tagged := m.Topic()
	assert.False(t, tagged)

	data, err := m.Body().ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestBinary(t *testing.T) {
	raw := []byte{0x00, 0xff}
	m := Binary(raw)
	raw[0] = 0x01

	assert.Equal(t, KindBinary, m.Header().Kind)
	data, err := m.Body().ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, data)
}

func TestFromParts(t *testing.T) {
	d := topic.MustParse("/rooms/1")
	body := BodyFrom(ChunkString("x"))

	t.Run("tagged", func(t *testing.T) {
		m := FromParts(Header{Kind: KindText}, d, true, body)
		h, got, tagged, b := m.Parts()

		assert.Equal(t, KindText, h.Kind)
		assert.Equal(t, d, got)
		assert.True(t, tagged)
		assert.Same(t, body, b)
	})

	t.Run("untagged_ignores_descriptor", func(t *testing.T) {
		m := FromParts(Header{Kind: KindText}, d, false, body)
		got, tagged := m.Topic()

		assert.False(t, tagged)
		assert.True(t, got.IsZero())
	})
}

func TestNew_NilBodyIsEmpty(t *testing.T) {
	m := New(Header{}, nil)
	require.NotNil(t, m.Body())

	data, err := m.Body().ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMessage_HeaderIsCopy(t *testing.T) {
	m := New(Header{Metadata: map[string]string{"k": "v"}}, nil)
	h := m.Header()
	h.Metadata["k"] = "changed"

	assert.Equal(t, "v", m.Header().Metadata["k"])
}

func TestMessage_IsMessager(t *testing.T) {
	m := Text("x")
	var mm Messager = m
	assert.Same(t, m, mm.Message())
}
