package rdiff

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// openData opens a data-directory file, transparently decompressing ".gz".
func openData(dataPath, name string) (io.ReadCloser, error) {
	file, errOpen := os.Open(filepath.Join(dataPath, name))
	if errOpen != nil {
		return nil, errOpen
	}
	if !strings.HasSuffix(name, ".gz") {
		return file, nil
	}
	reader, errGzip := gzip.NewReader(file)
	if errGzip != nil {
		_ = file.Close()
		return nil, fmt.Errorf("rdiff: open %s: %w", name, errGzip)
	}
	return &gzipReadCloser{reader: reader, file: file}, nil
}

type gzipReadCloser struct {
	reader *gzip.Reader
	file   *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.reader.Read(p) }

func (g *gzipReadCloser) Close() error {
	errReader := g.reader.Close()
	errFile := g.file.Close()
	if errReader != nil {
		return errReader
	}
	return errFile
}

// SessionStatistics holds the key/value pairs of one session_statistics
// entry. Values are parsed lazily into integers on access.
type SessionStatistics struct {
	values map[string]string
}

// loadSessionStatistics reads one session_statistics.<ts>.data[.gz] file.
func loadSessionStatistics(dataPath, name string) (*SessionStatistics, error) {
	reader, errOpen := openData(dataPath, name)
	if errOpen != nil {
		return nil, errOpen
	}
	defer func() { _ = reader.Close() }()

	stats := &SessionStatistics{values: map[string]string{}}
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 2 {
			continue
		}
		stats.values[fields[0]] = fields[1]
	}
	if errScan := scanner.Err(); errScan != nil {
		return nil, errScan
	}
	return stats, nil
}

func (s *SessionStatistics) intValue(key string) int64 {
	if s == nil {
		return 0
	}
	raw, ok := s.values[key]
	if !ok {
		return 0
	}
	// Session statistics may record fractional byte counts.
	parsed, errParse := strconv.ParseFloat(raw, 64)
	if errParse != nil {
		return 0
	}
	return int64(parsed)
}

// SourceFileSize returns the total size of the source at that session.
func (s *SessionStatistics) SourceFileSize() int64 { return s.intValue("SourceFileSize") }

// IncrementFileSize returns the bytes added by that session's increments.
func (s *SessionStatistics) IncrementFileSize() int64 { return s.intValue("IncrementFileSize") }

// NewFiles returns the number of files created during that session.
func (s *SessionStatistics) NewFiles() int64 { return s.intValue("NewFiles") }

// DeletedFiles returns the number of files removed during that session.
func (s *SessionStatistics) DeletedFiles() int64 { return s.intValue("DeletedFiles") }

// ChangedFiles returns the number of files modified during that session.
func (s *SessionStatistics) ChangedFiles() int64 { return s.intValue("ChangedFiles") }

// Errors returns the recorded error count for that session.
func (s *SessionStatistics) Errors() int64 { return s.intValue("Errors") }

// FileStatistics gives access to one file_statistics entry. Each line names
// one file followed by four space-separated columns; the path itself may
// contain spaces, so lines are matched by prefix and split from the right.
type FileStatistics struct {
	dataPath string
	name     string
}

// fileStatisticsColumns captures the per-file columns of one line.
type fileStatisticsColumns struct {
	Changed       bool
	SourceSize    int64
	MirrorSize    int64
	IncrementSize int64
}

// search scans for the line describing the given unquoted path.
func (f *FileStatistics) search(path string) (fileStatisticsColumns, error) {
	reader, errOpen := openData(f.dataPath, f.name)
	if errOpen != nil {
		return fileStatisticsColumns{}, errOpen
	}
	defer func() { _ = reader.Close() }()

	prefix := []byte(path + " ")
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, prefix) {
			continue
		}
		return parseFileStatisticsLine(string(line))
	}
	if errScan := scanner.Err(); errScan != nil {
		return fileStatisticsColumns{}, errScan
	}
	return fileStatisticsColumns{}, fmt.Errorf("rdiff: %s: no statistics for %q", f.name, path)
}

// parseFileStatisticsLine splits the four trailing columns off a line.
func parseFileStatisticsLine(line string) (fileStatisticsColumns, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, " ")
	if len(fields) < 5 {
		return fileStatisticsColumns{}, fmt.Errorf("rdiff: malformed file_statistics line %q", line)
	}
	tail := fields[len(fields)-4:]
	columns := fileStatisticsColumns{Changed: tail[0] == "1"}
	columns.SourceSize, _ = strconv.ParseInt(tail[1], 10, 64)
	columns.MirrorSize, _ = strconv.ParseInt(tail[2], 10, 64)
	columns.IncrementSize, _ = strconv.ParseInt(tail[3], 10, 64)
	return columns, nil
}

// SourceSize returns the recorded source size for the given unquoted path,
// or 0 when the path has no entry.
func (f *FileStatistics) SourceSize(path string) int64 {
	columns, errSearch := f.search(path)
	if errSearch != nil {
		return 0
	}
	return columns.SourceSize
}

// MirrorSize returns the recorded mirror size for the given unquoted path.
func (f *FileStatistics) MirrorSize(path string) int64 {
	columns, errSearch := f.search(path)
	if errSearch != nil {
		return 0
	}
	return columns.MirrorSize
}
