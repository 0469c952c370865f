package blacklist

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// FileStore persists entries as "fingerprint<TAB>unix-seconds" lines.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Name() string {
	return "file"
}

// Load reads the persisted entries. A missing file is a normal first run and
// yields an empty set; corrupt lines are skipped and counted.
func (f *FileStore) Load(_ context.Context) ([]Entry, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open blacklist file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	skipped := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, ok := parseEntryLine(line)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan blacklist file: %w", err)
	}

	if skipped > 0 {
		log.Warn("Skipped corrupt blacklist lines", "count", skipped, "path", f.path)
	}
	return entries, nil
}

// Save rewrites the whole file through a temp file and rename, so readers
// never observe a partial blacklist.
func (f *FileStore) Save(_ context.Context, entries []Entry) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create blacklist dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "blacklist-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	writer := bufio.NewWriter(tmpFile)
	for _, entry := range entries {
		if _, err := fmt.Fprintf(writer, "%s\t%d\n", entry.Fingerprint, entry.AddedAt.Unix()); err != nil {
			tmpFile.Close()
			return fmt.Errorf("write entry: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("flush temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), f.path); err != nil {
		return fmt.Errorf("replace blacklist file: %w", err)
	}
	return nil
}

func parseEntryLine(line string) (Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !isFingerprint(fields[0]) {
		return Entry{}, false
	}

	entry := Entry{Fingerprint: fields[0]}
	if len(fields) > 1 {
		seconds, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return Entry{}, false
		}
		entry.AddedAt = time.Unix(seconds, 0).UTC()
	}
	return entry, true
}

// isFingerprint accepts exactly the hex form produced by Node.Fingerprint.
func isFingerprint(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
