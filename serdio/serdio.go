package serdio

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeHook converts a custom type into carrier values ahead of encoding.
// It is called for every value the encoder does not recognize; returning an
// error aborts the encode.
type EncodeHook func(v any) (any, error)

// DecodeHook converts decoded carrier values back into custom types. It is
// called bottom-up for every decoded map, mirroring how EncodeHook-produced
// maps round-trip.
type DecodeHook func(v any) (any, error)

// HookBundle pairs the encoder and decoder hooks for one set of custom
// types.
type HookBundle struct {
	Encode EncodeHook
	Decode DecodeHook
}

// Encode serializes a value into a msgpack payload. hooks may be nil when
// the value consists solely of carrier types.
func Encode(v any, hooks *HookBundle) ([]byte, error) {
	var hook EncodeHook
	if hooks != nil {
		hook = hooks.Encode
	}
	carrier, err := toCarrier(v, hook)
	if err != nil {
		return nil, err
	}
	data, err := msgpack.Marshal(carrier)
	if err != nil {
		return nil, fmt.Errorf("could not encode payload: %w", err)
	}
	return data, nil
}

// Decode deserializes a msgpack payload back into carrier values, applying
// the decode hook to every decoded map so custom types are reconstructed.
func Decode(data []byte, hooks *HookBundle) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("could not decode payload: %w", err)
	}
	var hook DecodeHook
	if hooks != nil {
		hook = hooks.Decode
	}
	return fromCarrier(v, hook)
}

// toCarrier validates a value against the carrier set, recursing into
// containers and delegating unknown types to the encode hook.
func toCarrier(v any, hook EncodeHook) (any, error) {
	switch t := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		[]byte:
		return v, nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			conv, err := toCarrier(elem, hook)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, elem := range t {
			conv, err := toCarrier(elem, hook)
			if err != nil {
				return nil, err
			}
			out[key] = conv
		}
		return out, nil
	default:
		if hook == nil {
			return nil, fmt.Errorf("type %T is not encodable; provide an encode hook", v)
		}
		converted, err := hook(v)
		if err != nil {
			return nil, fmt.Errorf("encode hook failed for %T: %w", v, err)
		}
		if _, stillCustom := converted.(map[string]any); !stillCustom {
			switch converted.(type) {
			case nil, bool, string,
				int, int8, int16, int32, int64,
				uint, uint8, uint16, uint32, uint64,
				float32, float64, []byte, []any:
			default:
				return nil, fmt.Errorf("encode hook returned unsupported type %T for %T", converted, v)
			}
		}
		// The hook output may itself contain custom values.
		return toCarrier(converted, hook)
	}
}

// fromCarrier rebuilds decoded values bottom-up, applying the decode hook to
// maps.
func fromCarrier(v any, hook DecodeHook) (any, error) {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			conv, err := fromCarrier(elem, hook)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, elem := range t {
			conv, err := fromCarrier(elem, hook)
			if err != nil {
				return nil, err
			}
			out[key] = conv
		}
		if hook != nil {
			return hook(out)
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for key, elem := range t {
			name, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("decoded map has non-string key %v", key)
			}
			conv, err := fromCarrier(elem, hook)
			if err != nil {
				return nil, err
			}
			out[name] = conv
		}
		if hook != nil {
			return hook(out)
		}
		return out, nil
	default:
		return v, nil
	}
}
