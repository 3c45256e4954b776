// Package output renders command results as JSON, YAML or plain text.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatText, FormatJSON, FormatYAML:
		return true
	default:
		return false
	}
}

// Writer writes structured results.
type Writer struct {
	format Format
	w      io.Writer
}

// New returns a Writer for format writing to stdout.
func New(format Format) *Writer {
	return NewTo(os.Stdout, format)
}

// NewTo returns a Writer for format writing to w.
func NewTo(w io.Writer, format Format) *Writer {
	return &Writer{format: format, w: w}
}

// Format returns the writer's format.
func (o *Writer) Format() Format {
	return o.format
}

// Write renders v. Text output uses fmt's %v for values that do not
// implement fmt.Stringer.
func (o *Writer) Write(v any) error {
	switch o.format {
	case FormatJSON:
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(o.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatText:
		_, err := fmt.Fprintln(o.w, v)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", o.format)
	}
}
