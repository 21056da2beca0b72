// Package store provides key/value storage for chunked arrays.
//
// Keys are slash-separated paths ("0/.zarray", "0/3/1/0/0"). Values are
// opaque byte blobs. [Dir] maps keys onto files below a root directory and
// replaces files atomically, so a reader never observes a partially written
// chunk. [Mem] keeps everything in memory and is meant for tests.
//
// All implementations are safe for concurrent use.
package store
