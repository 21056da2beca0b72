// Diagnostic tool for analyzing TIFF page structure
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aliddell/go-iohub/internal/tiff"
)

// maxText bounds the description and page-info text printed per page.
const maxText = 120

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/diagnose/main.go <file.tif>")
		os.Exit(1)
	}

	filename := os.Args[1]
	fmt.Printf("=== Analyzing %s ===\n\n", filename)

	f, err := os.Open(filename)
	if err != nil {
		fmt.Printf("ERROR: Failed to open file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		fmt.Printf("ERROR: Failed to stat file: %v\n", err)
		os.Exit(1)
	}

	tf, err := tiff.Open(f, st.Size())
	if err != nil {
		fmt.Printf("ERROR: Failed to parse file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Byte order: %v\n", tf.ByteOrder)
	fmt.Printf("BigTIFF: %v\n", tf.BigTIFF)
	fmt.Printf("Size: %d bytes\n", tf.Size)
	fmt.Printf("Pages: %d\n", len(tf.Pages))
	fmt.Println()

	bad := 0
	for _, p := range tf.Pages {
		if !dumpPage(p) {
			bad++
		}
	}
	if bad > 0 {
		fmt.Printf("%d of %d pages failed to read\n", bad, len(tf.Pages))
		os.Exit(2)
	}
}

// dumpPage prints one page and reports whether its samples could be read.
func dumpPage(p *tiff.Page) bool {
	fmt.Printf("Page %d:\n", p.Index)
	fmt.Printf("  Shape: %dx%d %s\n", p.Height, p.Width, p.DType)
	fmt.Printf("  Compression: %d\n", p.Compression)
	fmt.Printf("  Strips: %d (%d bytes stored, %d decoded)\n", len(p.StripOffsets), p.StoredBytes(), p.PlaneBytes())
	fmt.Printf("  Tags: %v\n", p.Tags())
	if d := p.Description(); d != "" {
		fmt.Printf("  Description: %s\n", clip(d))
	}
	if mm := p.MicroManager(); mm != "" {
		fmt.Printf("  Page info: %s\n", clip(mm))
	}

	// Try to read the samples
	if _, err := p.Read(); err != nil {
		fmt.Printf("  ERROR reading samples: %v\n", err)
		return false
	}
	return true
}

func clip(s string) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	if len(s) > maxText {
		return s[:maxText] + "..."
	}
	return s
}
