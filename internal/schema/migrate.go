package schema

import (
	"fmt"
)

// migration transforms a document of version v into version v+1.
type migration func(doc map[string]any) (map[string]any, error)

// migrations[v] upgrades version v to v+1.
var migrations = map[int]migration{
	1: migrateV1toV2,
	2: migrateV2toV3,
}

// v1 axis order names and the v2 axis names they become.
var v1Axes = map[string]string{
	"time":     "T",
	"position": "P",
	"channel":  "C",
	"z":        "Z",
}

// v1 summary fields holding the size of each axis.
var v1Sizes = map[string]string{
	"time":     "frames",
	"position": "positions",
	"channel":  "channels",
	"z":        "slices",
}

var v1PixelTypes = map[string]string{
	"GRAY8":  "uint8",
	"GRAY16": "uint16",
	"GRAY32": "float32",
}

func intField(doc map[string]any, key string, def int) int {
	if f, ok := doc[key].(float64); ok {
		return int(f)
	}
	return def
}

func floatField(doc map[string]any, key string) (float64, bool) {
	f, ok := doc[key].(float64)
	return f, ok
}

// migrateV1toV2 turns an acquisition summary into an explicit axis list.
// Every axis of axis_order is kept, even with size 1, followed by Y and X.
func migrateV1toV2(doc map[string]any) (map[string]any, error) {
	order := []string{"time", "position", "channel", "z"}
	if raw, ok := doc["axis_order"].([]any); ok {
		order = order[:0]
		for _, a := range raw {
			name, _ := a.(string)
			order = append(order, name)
		}
	}

	pixelSize, hasPixelSize := floatField(doc, "pixel_size_um")
	axes := make([]any, 0, len(order)+2)
	for _, name := range order {
		axis := map[string]any{
			"name": v1Axes[name],
			"size": intField(doc, v1Sizes[name], 1),
		}
		switch name {
		case "time":
			axis["unit"] = "second"
		case "z":
			axis["unit"] = "micrometer"
			if step, ok := floatField(doc, "z_step_um"); ok {
				axis["scale"] = step
			}
		}
		axes = append(axes, axis)
	}
	for _, name := range []string{"Y", "X"} {
		key := "height"
		if name == "X" {
			key = "width"
		}
		axis := map[string]any{
			"name": name,
			"size": intField(doc, key, 0),
			"unit": "micrometer",
		}
		if hasPixelSize {
			axis["scale"] = pixelSize
		}
		axes = append(axes, axis)
	}

	pixelType, _ := doc["pixel_type"].(string)
	dt, ok := v1PixelTypes[pixelType]
	if !ok {
		return nil, fmt.Errorf("%w: pixel type %q", ErrSchema, pixelType)
	}

	channels := intField(doc, "channels", 1)
	names, ok := doc["channel_names"].([]any)
	if !ok || len(names) == 0 {
		names = make([]any, channels)
		for i := range names {
			names[i] = fmt.Sprintf("Channel %d", i)
		}
	}

	out := map[string]any{
		"version":       2,
		"axes":          axes,
		"channel_names": names,
		"dtype":         dt,
		"timestamps":    []any{},
	}
	if raw, ok := doc["stage_positions"].([]any); ok && len(raw) == intField(doc, "positions", 1) {
		positions := make([]any, len(raw))
		for i, r := range raw {
			p, _ := r.(map[string]any)
			positions[i] = simplifyStagePosition(p)
		}
		out["positions"] = positions
	}
	return out, nil
}

// simplifyStagePosition flattens one recorded stage position into
// label, grid cell, and per-device coordinates. Two layouts are read:
// DevicePositions entries of {Device, Position_um}, and the older
// subpositions of {stageName, x, y, z} where zero coordinates are unset.
func simplifyStagePosition(raw map[string]any) map[string]any {
	pos := map[string]any{
		"grid_row": firstInt(raw, "GridRow", "GridRowIndex", "gridRow"),
		"grid_col": firstInt(raw, "GridCol", "GridColumnIndex", "gridCol"),
	}
	for _, key := range []string{"Label", "label"} {
		if label, ok := raw[key].(string); ok {
			pos["label"] = label
			break
		}
	}

	devices := map[string]any{}
	entries, _ := raw["DevicePositions"].([]any)
	for _, e := range entries {
		dp, _ := e.(map[string]any)
		name, _ := dp["Device"].(string)
		if name == "" {
			continue
		}
		switch v := dp["Position_um"].(type) {
		case float64:
			devices[name] = []any{v}
		case []any:
			coords := make([]any, 0, len(v))
			for _, c := range v {
				if f, ok := c.(float64); ok {
					coords = append(coords, f)
				}
			}
			devices[name] = coords
		}
	}
	subs, _ := raw["subpositions"].([]any)
	for _, e := range subs {
		sp, _ := e.(map[string]any)
		name, _ := sp["stageName"].(string)
		if name == "" {
			continue
		}
		var coords []any
		for _, key := range []string{"x", "y", "z"} {
			if f, ok := sp[key].(float64); ok && f != 0 {
				coords = append(coords, f)
			}
		}
		if len(coords) > 0 {
			devices[name] = coords
		}
	}
	if len(devices) > 0 {
		pos["devices"] = devices
	}
	return pos
}

func firstInt(doc map[string]any, keys ...string) int {
	for _, key := range keys {
		if f, ok := doc[key].(float64); ok && f >= 0 {
			return int(f)
		}
	}
	return 0
}

// migrateV2toV3 renames scale to step, adds axis types inferred from the
// axis names, and turns channel names into channel descriptors.
func migrateV2toV3(doc map[string]any) (map[string]any, error) {
	rawAxes, _ := doc["axes"].([]any)
	axes := make([]any, 0, len(rawAxes))
	for _, ra := range rawAxes {
		a, ok := ra.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: axis is not an object", ErrSchema)
		}
		name, _ := a["name"].(string)
		axis := map[string]any{
			"name": name,
			"type": string(InferAxisType(name)),
			"size": a["size"],
		}
		if unit, ok := a["unit"].(string); ok && unit != "" {
			axis["unit"] = unit
		}
		if scale, ok := a["scale"]; ok {
			axis["step"] = scale
		}
		axes = append(axes, axis)
	}

	out := map[string]any{
		"version": 3,
		"axes":    axes,
		"dtype":   doc["dtype"],
	}
	if names, ok := doc["channel_names"].([]any); ok && len(names) > 0 {
		channels := make([]any, len(names))
		for i, n := range names {
			channels[i] = map[string]any{"name": n}
		}
		out["channels"] = channels
	}
	if ts, ok := doc["timestamps"].([]any); ok && len(ts) > 0 {
		out["timestamps"] = ts
	}
	if positions, ok := doc["positions"].([]any); ok && len(positions) > 0 {
		out["positions"] = positions
	}
	return out, nil
}
