// Package schema defines the dataset metadata record and the engine that
// validates it and migrates older versions of it.
//
// # Versions
//
//   - v1: acquisition summary (frames, positions, channels, slices,
//     height, width, channel_names, z_step_um, pixel_size_um, pixel_type,
//     axis_order)
//   - v2: explicit axis list with name, size, unit and scale, plus
//     channel_names, dtype and timestamps
//   - v3 (current): typed axes with name, type, size, unit and step,
//     channel descriptors with display properties, dtype, timestamps and
//     an optional producer stamp
//
// Each version has an embedded JSON Schema. Records are checked against
// the schema of their own version, migrated one version at a time, and the
// result is checked against the current schema plus the semantic rules the
// JSON Schema cannot express (unique axis names, trailing Y/X space axes,
// channel count, timestamp ranges, semantic producer version).
//
// Migrating a record that is already current is a no-op.
//
// # Usage
//
//	eng, err := schema.NewEngine()
//	md, err := eng.Migrate(raw, schema.CurrentVersion)
//	raw, err = md.Marshal()
//
// The engine does no I/O and is safe for concurrent use.
package schema
