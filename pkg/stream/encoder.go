package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/polisai/polis-broker/pkg/domain"
)

// Format selects the byte encoding of a feed.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
	// FormatCBOR writes a CBOR sequence (RFC 8742) of envelopes.
	FormatCBOR Format = "cbor"
)

// Envelope frames one event on a byte stream.
type Envelope struct {
	Seq   uint64       `json:"seq" cbor:"seq"`
	Kind  domain.Kind  `json:"kind" cbor:"kind"`
	Event domain.Event `json:"event" cbor:"event"`
}

// Encoder writes framed events to an underlying writer.
type Encoder interface {
	Encode(ev domain.Event) error
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano

	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("stream: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("stream: CBOR decoder initialization failed: " + err.Error())
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCBOR:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown format %q (want json or cbor)", s)
	}
}

// NewEncoder returns an encoder for the given format.
func NewEncoder(w io.Writer, format Format) (Encoder, error) {
	switch format {
	case FormatJSON:
		return &envelopeEncoder{enc: json.NewEncoder(w)}, nil
	case FormatCBOR:
		return &envelopeEncoder{enc: encMode.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

type valueEncoder interface {
	Encode(v any) error
}

type envelopeEncoder struct {
	enc valueEncoder
	seq uint64
}

func (e *envelopeEncoder) Encode(ev domain.Event) error {
	e.seq++
	return e.enc.Encode(Envelope{Seq: e.seq, Kind: ev.Kind(), Event: ev})
}

// DecodeCBOR reads one envelope from a CBOR sequence. The event payload is
// left as a generic map.
func DecodeCBOR(dec *cbor.Decoder) (seq uint64, kind domain.Kind, payload map[string]any, err error) {
	var raw struct {
		Seq   uint64         `cbor:"seq"`
		Kind  domain.Kind    `cbor:"kind"`
		Event map[string]any `cbor:"event"`
	}
	if err := dec.Decode(&raw); err != nil {
		return 0, "", nil, err
	}
	return raw.Seq, raw.Kind, raw.Event, nil
}

// NewCBORDecoder returns a decoder for CBOR sequences written by NewEncoder.
func NewCBORDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
