// Package csvfile implements an append-only CSV result sink that can be resumed
// by reading its link column back.
package csvfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jszwec/csvutil"
	"go.uber.org/zap"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

// bom is the UTF-8 byte order mark written at the start of a new file so
// spreadsheet tools detect the encoding.
var bom = []byte{0xEF, 0xBB, 0xBF}

// Sink appends records to a CSV file. It is safe for concurrent use.
type Sink struct {
	path    string
	columns []string
	logger  *zap.Logger

	// setAside is where an unusable prior file was moved; carried holds the
	// links that could still be read from it.
	setAside string
	carried  []string

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// Open opens path for appending, creating it with a header when it does not
// exist or is empty. A prior file whose header cannot be read or does not
// match columns is renamed to <path>.corrupt-<unix> and a fresh file is
// started; links still readable from it keep seeding ExistingKeys.
func Open(path string, columns []string, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(columns) == 0 {
		columns = crawler.DefaultColumns
	}
	if err := crawler.ValidateColumns(columns); err != nil {
		return nil, fmt.Errorf("csv columns: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	s := &Sink{
		path:    path,
		columns: append([]string(nil), columns...),
		logger:  logger,
	}

	fresh := true
	if info, err := os.Stat(path); err == nil {
		fresh = info.Size() == 0
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat output file: %w", err)
	}
	if !fresh {
		header, err := readHeader(path)
		if err == nil && !slices.Equal(header, columns) {
			err = fmt.Errorf("output file has columns %v, configured %v", header, columns)
		}
		if err != nil {
			if mvErr := s.moveAside(err); mvErr != nil {
				return nil, mvErr
			}
			fresh = true
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // output is meant to be shared
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	s.file = f
	s.writer = csv.NewWriter(f)
	if fresh {
		if _, err := f.Write(bom); err != nil {
			_ = f.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("write byte order mark: %w", err)
		}
		if err := s.writeRow(columns); err != nil {
			_ = f.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return s, nil
}

// moveAside renames an unusable output file out of the way and keeps whatever
// links can still be read from it.
func (s *Sink) moveAside(cause error) error {
	dest := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, dest); err != nil {
		return fmt.Errorf("move unusable output file aside: %w", err)
	}
	s.setAside = dest
	s.logger.Error("existing output file unusable; starting a fresh one",
		zap.String("path", s.path),
		zap.String("moved_to", dest),
		zap.Error(cause),
	)
	links, skipped, err := ReadLinks(dest)
	if err != nil {
		s.logger.Warn("no links recovered from unusable output file", zap.String("path", dest), zap.Error(err))
		return nil
	}
	if skipped > 0 {
		s.logger.Warn("skipped unreadable rows", zap.String("path", dest), zap.Int("rows", skipped))
	}
	s.carried = links
	return nil
}

// SetAside returns where an unusable prior file was moved, or "".
func (s *Sink) SetAside() string {
	return s.setAside
}

// Path returns the output file path.
func (s *Sink) Path() string {
	return s.path
}

// Append writes one row and flushes it to disk.
func (s *Sink) Append(_ context.Context, record crawler.PersistedRecord) error {
	row := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		v, err := record.Field(c)
		if err != nil {
			return crawler.Persistence("format csv row", err)
		}
		row = append(row, v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return crawler.Persistence("append csv row", os.ErrClosed)
	}
	if err := s.writeRow(row); err != nil {
		return crawler.Persistence("append csv row", err)
	}
	return nil
}

func (s *Sink) writeRow(row []string) error {
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush row: %w", err)
	}
	return nil
}

// ExistingKeys returns the links recovered from a set-aside file followed by
// the link column of the current file.
func (s *Sink) ExistingKeys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links, skipped, err := ReadLinks(s.path)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Warn("skipped unreadable rows", zap.String("path", s.path), zap.Int("rows", skipped))
	}
	if len(s.carried) == 0 {
		return links, nil
	}
	return append(append([]string(nil), s.carried...), links...), nil
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	flushErr := s.writer.Error()
	closeErr := s.file.Close()
	s.file = nil
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}

type linkRow struct {
	Link string `csv:"Link"`
}

// ReadLinks returns the non-empty values of the Link column of a CSV file
// written by Sink (or by any tool that keeps a Link header). Rows with the
// wrong field count or broken quoting are skipped and counted.
func ReadLinks(path string) (links []string, skipped int, err error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open output file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	dec, err := csvutil.NewDecoder(newReader(f))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("read csv header: %w", err)
	}
	if !slices.Contains(dec.Header(), crawler.ColumnLink) {
		return nil, 0, fmt.Errorf("output file %s has no %s column", path, crawler.ColumnLink)
	}

	for {
		var row linkRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var perr *csv.ParseError
			if errors.Is(err, csvutil.ErrFieldCount) || errors.As(err, &perr) {
				skipped++
				continue
			}
			return nil, skipped, fmt.Errorf("read csv row: %w", err)
		}
		if row.Link != "" {
			links = append(links, row.Link)
		}
	}
	return links, skipped, nil
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	header, err := newReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	return header, nil
}

// newReader returns a csv.Reader that skips a leading byte order mark.
func newReader(r io.Reader) *csv.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(bom)); err == nil && bytes.Equal(head, bom) {
		_, _ = br.Discard(len(bom)) //nolint:errcheck // peeked above
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	return cr
}
