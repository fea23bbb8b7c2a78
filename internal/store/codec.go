package store

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Metadata, sources and event payloads are stored as CBOR blobs. Encoding
// is Core Deterministic so identical metadata always produces identical
// bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	// any-typed targets decode maps as map[string]any so values round-trip
	// into the JSON surfaces unchanged.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// encodeBlob returns nil for empty values so the column stays NULL.
func encodeBlob(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	return encMode.Marshal(v)
}

func decodeBlob(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return decMode.Unmarshal(data, v)
}
