// Package tables reads the fix and schedule tables and writes the match
// table. Paths ending in .gz are transparently (de)compressed.
package tables

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens path for reading, decompressing .gz files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip %s: %w", path, err)
	}
	return &readCloser{Reader: zr, closers: []io.Closer{f, zr}}, nil
}

type writeCloser struct {
	io.Writer
	flush   func() error
	closers []io.Closer
}

func (w *writeCloser) Close() error {
	first := w.flush()
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Create creates path for writing, compressing when it ends in .gz. Close
// must be called to flush the data.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(f)
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return &writeCloser{Writer: bw, flush: bw.Flush, closers: []io.Closer{f}}, nil
	}
	zw := gzip.NewWriter(bw)
	flush := func() error {
		if err := zw.Close(); err != nil {
			return err
		}
		return bw.Flush()
	}
	return &writeCloser{Writer: zw, flush: flush, closers: []io.Closer{f}}, nil
}

// header maps lower-cased column names to their position.
type header map[string]int

func readHeader(r *csv.Reader) (header, error) {
	cols, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("missing header row")
		}
		return nil, err
	}
	h := make(header, len(cols))
	for i, c := range cols {
		if i == 0 {
			c = strings.TrimPrefix(c, "\ufeff")
		}
		h[strings.ToLower(strings.TrimSpace(c))] = i
	}
	return h, nil
}

// find returns the position of the first present name, or -1.
func (h header) find(names ...string) int {
	for _, n := range names {
		if i, ok := h[n]; ok {
			return i
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}
