package serdio

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripCarrierValues(t *testing.T) {
	value := map[string]any{
		"name":    "total",
		"count":   int64(42),
		"ratio":   0.5,
		"enabled": true,
		"raw":     []byte{0x01, 0x02},
		"items":   []any{"a", "b"},
		"nested":  map[string]any{"inner": nil},
	}

	data, err := Encode(value, nil)
	require.NoError(t, err)

	decoded, err := Decode(data, nil)
	require.NoError(t, err)

	out, ok := decoded.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "total", out["name"])
	assert.EqualValues(t, 42, out["count"])
	assert.Equal(t, 0.5, out["ratio"])
	assert.Equal(t, true, out["enabled"])
	assert.Equal(t, []byte{0x01, 0x02}, out["raw"])
	assert.Equal(t, []any{"a", "b"}, out["items"])
}

func TestEncodeRejectsUnknownTypeWithoutHook(t *testing.T) {
	type point struct{ X, Y int }

	_, err := Encode(point{1, 2}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode hook")
}

type coordinate struct {
	Lat, Lon float64
}

var coordinateHooks = &HookBundle{
	Encode: func(v any) (any, error) {
		c, ok := v.(coordinate)
		if !ok {
			return nil, fmt.Errorf("unsupported type %T", v)
		}
		return map[string]any{"__coord": true, "lat": c.Lat, "lon": c.Lon}, nil
	},
	Decode: func(v any) (any, error) {
		m, ok := v.(map[string]any)
		if !ok {
			return v, nil
		}
		if tagged, _ := m["__coord"].(bool); !tagged {
			return v, nil
		}
		lat, _ := m["lat"].(float64)
		lon, _ := m["lon"].(float64)
		return coordinate{Lat: lat, Lon: lon}, nil
	},
}

func TestRoundTripCustomTypeWithHooks(t *testing.T) {
	value := map[string]any{
		"origin": coordinate{Lat: 52.52, Lon: 13.405},
		"label":  "berlin",
	}

	data, err := Encode(value, coordinateHooks)
	require.NoError(t, err)

	decoded, err := Decode(data, coordinateHooks)
	require.NoError(t, err)

	out, ok := decoded.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, coordinate{Lat: 52.52, Lon: 13.405}, out["origin"])
	assert.Equal(t, "berlin", out["label"])
}

func TestEncodeHookErrorPropagates(t *testing.T) {
	hooks := &HookBundle{
		Encode: func(v any) (any, error) {
			return nil, fmt.Errorf("no conversion for %T", v)
		},
	}
	_, err := Encode(struct{}{}, hooks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode hook failed")
}
