// Package source lists, orders and reads daily report files.
package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethpandaops/casefeed/internal/record"
)

// ErrCheckpointNotFound is returned by From when the named file is not in
// the listing.
var ErrCheckpointNotFound = errors.New("checkpoint file not found")

// File is one daily report.
type File struct {
	Name string
	Path string
}

// List returns the .csv regular files in dir in lexicographic name order.
// Daily reports are named MM-DD-YYYY.csv, so name order is date order
// within a year.
func List(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading data directory %s: %w", dir, err)
	}

	files := make([]File, 0, len(entries))

	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}

		files = append(files, File{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	return files, nil
}

// From drops every file before the one named checkpoint. The name is matched
// exactly; it is never parsed as a date. An empty checkpoint keeps all files.
func From(files []File, checkpoint string) ([]File, error) {
	if checkpoint == "" {
		return files, nil
	}

	for i, f := range files {
		if f.Name == checkpoint {
			return files[i:], nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, checkpoint)
}

// Previous returns the name of the file listed right before name.
func Previous(files []File, name string) (string, bool) {
	for i, f := range files {
		if f.Name == name {
			if i == 0 {
				return "", false
			}

			return files[i-1].Name, true
		}
	}

	return "", false
}

// Filter keeps rows whose Field equals Value. The zero Filter keeps all rows.
type Filter struct {
	Field string `yaml:"field"`
	Value string `yaml:"value"`
}

// Match reports whether row passes the filter.
func (f Filter) Match(row record.Raw) bool {
	if f.Field == "" {
		return true
	}

	return row[f.Field] == f.Value
}

// Each reads the report at path and calls fn for every row that passes
// filter, in file order. Header names are normalized with
// record.NormalizeHeader. Iteration stops at the first error from fn.
func Each(path string, filter Filter, fn func(row record.Raw) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return each(f, filter, fn)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func each(r io.Reader, filter Filter, fn func(row record.Raw) error) error {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	names := make([]string, len(header))
	for i, h := range header {
		names[i] = record.NormalizeHeader(h)
	}

	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("reading row: %w", err)
		}

		row := make(record.Raw, len(names))

		for i, name := range names {
			if i < len(fields) {
				row[name] = fields[i]
			} else {
				row[name] = ""
			}
		}

		if !filter.Match(row) {
			continue
		}

		if err := fn(row); err != nil {
			return err
		}
	}
}
