package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// EnvelopeVersion is the only envelope schema this package reads or writes.
const EnvelopeVersion = 1

const (
	fieldVersion protowire.Number = 1
	fieldText    protowire.Number = 2
)

// ErrEnvelopeVersion is returned for envelopes written with another schema.
var ErrEnvelopeVersion = errors.New("protocol: unsupported envelope version")

// EncodeEnvelope wraps text in a version 1 envelope.
func EncodeEnvelope(text string) []byte {
	b := make([]byte, 0, len(text)+8)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, EnvelopeVersion)
	b = protowire.AppendTag(b, fieldText, protowire.BytesType)
	b = protowire.AppendString(b, text)
	return b
}

// DecodeEnvelope extracts the text from an envelope. Unknown fields, a
// missing or foreign version, and non UTF-8 text are all rejected.
func DecodeEnvelope(b []byte) (string, error) {
	var (
		version    uint64
		hasVersion bool
		text       string
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return "", fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(m))
			}
			version, hasVersion = v, true
			b = b[m:]
		case num == fieldText && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return "", fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(m))
			}
			if !utf8.Valid(v) {
				return "", fmt.Errorf("%w: text is not valid UTF-8", ErrMalformedFrame)
			}
			text = string(v)
			b = b[m:]
		default:
			return "", fmt.Errorf("%w: unexpected field %d", ErrMalformedFrame, num)
		}
	}

	if !hasVersion || version != EnvelopeVersion {
		return "", fmt.Errorf("%w: %d", ErrEnvelopeVersion, version)
	}
	return text, nil
}
