package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/cab2cab/c2cdump/internal/core"
)

// Dump appends every decrypted plaintext buffer to a byte stream in capture
// order, including payloads that failed structural parsing, so malformed
// traffic can be inspected by hand. The stream carries no delimiters beyond
// the protocol's own framing; consumers re-parse it with the same decoder.
type Dump struct {
	w io.Writer
	f *os.File
}

// NewDump creates a dump sink writing to the given path.
func NewDump(path string) (*Dump, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open dump file: %w", err)
	}
	return &Dump{w: bufio.NewWriter(f), f: f}, nil
}

// NewDumpWriter creates a dump sink over an arbitrary writer.
func NewDumpWriter(w io.Writer) *Dump {
	return &Dump{w: w}
}

func (d *Dump) Consume(o *core.Outcome) error {
	if len(o.Plaintext) == 0 {
		return nil
	}
	if _, err := d.w.Write(o.Plaintext); err != nil {
		return fmt.Errorf("dump write: %w", err)
	}
	return nil
}

func (d *Dump) Close() error {
	if bw, ok := d.w.(*bufio.Writer); ok {
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("dump flush: %w", err)
		}
	}
	if d.f != nil {
		return d.f.Close()
	}
	return nil
}
