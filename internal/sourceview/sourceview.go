// Package sourceview renders source-file context around a line,
// caching file contents across repeated lookups in the same session.
package sourceview

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Cache holds source files read during a debug session, split into
// lines, keyed by path.
type Cache struct {
	files map[string][]string
}

// NewCache returns an empty source cache.
func NewCache() *Cache {
	return &Cache{files: make(map[string][]string)}
}

func (c *Cache) lines(path string) ([]string, error) {
	if lines, ok := c.files[path]; ok {
		return lines, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open source %q", path)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read source %q", path)
	}
	c.files[path] = lines
	return lines, nil
}

// Print writes the lines around the 1-indexed line number in file,
// nContext lines on either side, marking the current line with '>'.
func (c *Cache) Print(w io.Writer, file string, line int, nContext int) error {
	lines, err := c.lines(file)
	if err != nil {
		return err
	}

	start := line - nContext
	if start < 1 {
		start = 1
	}
	end := line + nContext
	if end > len(lines) {
		end = len(lines)
	}

	for i := start; i <= end; i++ {
		marker := " "
		if i == line {
			marker = ">"
		}
		fmt.Fprintf(w, "%s %4d %s\n", marker, i, lines[i-1])
	}
	return nil
}
