// internal/storage/file_storage.go
package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileStorage provides locked, atomic access to files under BaseDir
type FileStorage struct {
	BaseDir string

	// path -> *sync.RWMutex
	fileLocks sync.Map

	cache        map[string]*CacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int
}

// CacheEntry holds file content with the stat it was read at
type CacheEntry struct {
	Data      []byte
	Timestamp time.Time
	ModTime   time.Time
	Size      int64
}

// FileInfo describes one listed file
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// NewFileStorage creates the base directory and returns a storage rooted at it
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &FileStorage{
		BaseDir:      baseDir,
		cache:        make(map[string]*CacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 100,
	}, nil
}

func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// Path returns the full path of a file under BaseDir
func (fs *FileStorage) Path(dirPath, filename string) string {
	return filepath.Join(fs.BaseDir, dirPath, filename)
}

// SaveTextFile writes content atomically through a temp file and rename
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) error {
	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	fullPath := filepath.Join(fullDirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := writeAtomic(fullPath, content); err != nil {
		return err
	}

	fs.invalidateCache(fullPath)
	return nil
}

func writeAtomic(fullPath string, content []byte) error {
	tempPath := fullPath + ".tmp"

	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

// SaveJSONFile marshals data with indentation and saves it atomically
func (fs *FileStorage) SaveJSONFile(dirPath, filename string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return fs.SaveTextFile(dirPath, filename, content)
}

// AppendLines appends each line followed by a newline
func (fs *FileStorage) AppendLines(dirPath, filename string, lines [][]byte) error {
	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	fullPath := filepath.Join(fullDirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file for append: %w", err)
	}

	var buf []byte
	for _, line := range lines {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	_, werr := f.Write(buf)
	cerr := f.Close()
	fs.invalidateCache(fullPath)

	if werr != nil {
		return fmt.Errorf("failed to append: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close file: %w", cerr)
	}
	return nil
}

// CopyFile copies src to dst atomically, holding a read lock on src
func (fs *FileStorage) CopyFile(srcDir, srcName, dstDir, dstName string) error {
	srcPath := filepath.Join(fs.BaseDir, srcDir, srcName)
	dstDirPath := filepath.Join(fs.BaseDir, dstDir)
	dstPath := filepath.Join(dstDirPath, dstName)

	srcLock := fs.getFileLock(srcPath)
	srcLock.RLock()
	defer srcLock.RUnlock()

	dstLock := fs.getFileLock(dstPath)
	dstLock.Lock()
	defer dstLock.Unlock()

	if err := os.MkdirAll(dstDirPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	tempPath := dstPath + ".tmp"
	dst, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, dstPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save copy: %w", err)
	}

	fs.invalidateCache(dstPath)
	return nil
}

// LoadTextFile reads a file, serving from cache while the file's size and
// modification time are unchanged
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	fs.cacheMutex.RLock()
	entry, exists := fs.cache[fullPath]
	fs.cacheMutex.RUnlock()
	if exists && time.Since(entry.Timestamp) < fs.cacheExpiry &&
		entry.ModTime.Equal(info.ModTime()) && entry.Size == info.Size() {
		return entry.Data, nil
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	fs.updateCache(fullPath, content, info)
	return content, nil
}

func (fs *FileStorage) updateCache(path string, data []byte, info os.FileInfo) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	fs.cache[path] = &CacheEntry{
		Data:      data,
		Timestamp: time.Now(),
		ModTime:   info.ModTime(),
		Size:      info.Size(),
	}
	fs.enforceMaxCacheSize()
}

// enforceMaxCacheSize drops the oldest entries; caller holds cacheMutex
func (fs *FileStorage) enforceMaxCacheSize() {
	if len(fs.cache) <= fs.maxCacheSize {
		return
	}

	type cacheEntryWithTime struct {
		key       string
		timestamp time.Time
	}

	entries := make([]cacheEntryWithTime, 0, len(fs.cache))
	for key, entry := range fs.cache {
		entries = append(entries, cacheEntryWithTime{key: key, timestamp: entry.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp.Before(entries[j].timestamp)
	})

	for i := 0; i < len(entries)-fs.maxCacheSize; i++ {
		delete(fs.cache, entries[i].key)
	}
}

// LoadJSONFile reads and unmarshals a JSON file
func (fs *FileStorage) LoadJSONFile(dirPath, filename string, v interface{}) error {
	content, err := fs.LoadTextFile(dirPath, filename)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// FileExists reports whether a regular file exists
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	info, err := os.Stat(filepath.Join(fs.BaseDir, dirPath, filename))
	return err == nil && !info.IsDir()
}

// DeleteFile removes a file
func (fs *FileStorage) DeleteFile(dirPath, filename string) error {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	fs.invalidateCache(fullPath)
	return nil
}

// ListFiles lists regular files in dirPath with the given extension,
// sorted by name. A missing directory yields an empty list.
func (fs *FileStorage) ListFiles(dirPath, ext string) ([]FileInfo, error) {
	entries, err := os.ReadDir(filepath.Join(fs.BaseDir, dirPath))
	if err != nil {
		if os.IsNotExist(err) {
			return []FileInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (fs *FileStorage) invalidateCache(path string) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	delete(fs.cache, path)
}
