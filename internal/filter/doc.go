// Package filter implements the chunk codec pipeline.
//
// Chunks of a chunked store are encoded by an ordered list of filters
// followed by an optional compressor. Codecs are identified by their
// numcodecs id so the configuration stored in an array record can be read
// back into a [Pipeline].
//
// # Supported Codecs
//
//   - zlib: DEFLATE with a zlib header via [Zlib] (klauspost/compress/zlib)
//   - gzip: DEFLATE with a gzip header via [Gzip] (klauspost/compress/gzip)
//   - zstd: Zstandard via [Zstd], using pooled encoders and decoders
//   - lz4: LZ4 block format with a 4-byte size header via [LZ4]
//   - s2: S2 block format via [S2]
//   - shuffle: Byte shuffling via [Shuffle]. Groups byte 0 of every element,
//     then byte 1, and so on, which helps compressors on multi-byte samples.
//   - fletcher32: Appends a Fletcher-32 checksum via [Fletcher32] and
//     verifies it on decode.
//
// # Pipeline
//
// The [Pipeline] type applies filters in order and then the compressor when
// encoding. Decoding runs the compressor first and the filters in reverse:
//
//	p, err := filter.NewPipeline(&filter.Config{ID: "zstd", Level: 1},
//	    []filter.Config{{ID: "shuffle", ElementSize: 2}})
//	encoded, err := p.Encode(raw)
//	decoded, err := p.Decode(encoded)
//
// Decode failures indicate corrupt or foreign data; callers should treat
// them as such rather than retrying.
//
// # Key Types
//
//   - [Codec]: Interface implemented by every codec (ID, Encode, Decode)
//   - [Config]: Serializable codec configuration
//   - [Pipeline]: Filters plus compressor
package filter
