package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// Browser traces are JSON end to end, so record decode sits on the hot
// ingestion path. sonic's stdlib-compatible config keeps custom marshalers
// working while speeding up the bulk decode.
var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

// MarshalToString serializes straight to a string. The session's trace
// archive stores one JSON string per record, so this skips the byte-slice
// copy Marshal would force on every ingested record.
func MarshalToString(v any) (string, error) {
	return defaultConfig.MarshalToString(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}
