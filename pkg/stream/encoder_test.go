package stream

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-broker/pkg/domain"
)

func encodeAll(t *testing.T, format Format, events []domain.Event) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, format)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}
	return buf.Bytes()
}

func TestJSONEnvelopesGolden(t *testing.T) {
	newGoldie(t).Assert(t, "envelopes_json", encodeAll(t, FormatJSON, sampleEvents()))
}

func TestCBORSequence(t *testing.T) {
	data := encodeAll(t, FormatCBOR, sampleEvents())
	dec := NewCBORDecoder(bytes.NewReader(data))

	seq, kind, payload, err := DecodeCBOR(dec)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, domain.KindNames, kind)
	assert.Equal(t, []any{"line1/temp", "line1/state"}, payload["names"])
	assert.Nil(t, payload["error"])

	seq, kind, payload, err = DecodeCBOR(dec)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, domain.KindTags, kind)
	tags, ok := payload["tags"].([]any)
	require.True(t, ok)
	require.Len(t, tags, 2)
	first, ok := tags[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2026-03-01T12:00:00Z", first["timestamp"])
	assert.Equal(t, "good", first["status"])
	second, ok := tags[1].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, second["timestamp"])

	seq, kind, payload, err = DecodeCBOR(dec)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, domain.KindQueryAll, kind)
	assert.Equal(t, "engine overloaded", payload["error"])

	_, _, _, err = DecodeCBOR(dec)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestCBOREncodingIsDeterministic(t *testing.T) {
	a := encodeAll(t, FormatCBOR, sampleEvents())
	b := encodeAll(t, FormatCBOR, sampleEvents())
	assert.Equal(t, a, b)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("cbor")
	require.NoError(t, err)
	assert.Equal(t, FormatCBOR, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)

	_, err = NewEncoder(io.Discard, Format("xml"))
	assert.Error(t, err)
}
