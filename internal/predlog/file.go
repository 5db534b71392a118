package predlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore appends records as JSON lines to a file, fsyncing every write.
// Existing records are replayed into memory on open.
type FileStore struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	index *MemoryStore
}

// NewFileStore opens or creates the log at path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	recs, err := Replay(path)
	if err != nil {
		return nil, fmt.Errorf("failed to replay prediction log: %w", err)
	}
	index, _ := NewMemoryStore("")
	for _, r := range recs {
		_ = index.Append(context.Background(), r)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open prediction log: %w", err)
	}

	return &FileStore{file: file, path: path, index: index}, nil
}

// Path returns the log file location.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Append(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record has no ID")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.index.Get(ctx, rec.ID); err == nil {
		return nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	line = append(line, '\n')

	if _, err := f.file.Write(line); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync prediction log: %w", err)
	}

	return f.index.Append(ctx, rec)
}

func (f *FileStore) Get(ctx context.Context, id string) (*Record, error) {
	return f.index.Get(ctx, id)
}

func (f *FileStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	return f.index.List(ctx, limit, offset)
}

func (f *FileStore) Count(ctx context.Context) (int, error) {
	return f.index.Count(ctx)
}

// Close flushes and closes the log.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.file.Sync(); err != nil {
		return err
	}
	return f.file.Close()
}

// Replay reads every well-formed record from a log file, oldest first.
func Replay(path string) ([]*Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var recs []*Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec.ID == "" {
			continue // skip torn or malformed lines
		}
		recs = append(recs, &rec)
	}

	return recs, scanner.Err()
}
