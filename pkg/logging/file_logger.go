package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level and destinations for the process logger
type Config struct {
	Level      string `yaml:"level"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int64  `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	Stdout     bool   `yaml:"stdout"`
}

// FileLoggerConfig configures file-based logging
type FileLoggerConfig struct {
	FilePath    string `yaml:"file_path"`
	MaxSize     int64  `yaml:"max_size"`    // bytes before rotation, 0 disables
	MaxBackups  int    `yaml:"max_backups"` // rotated files kept, 0 keeps all
	BufferSize  int    `yaml:"buffer_size"`
	SyncOnWrite bool   `yaml:"sync_on_write"`
}

// FileLogger is a buffered io.Writer with size-based rotation
type FileLogger struct {
	config     FileLoggerConfig
	file       *os.File
	written    int64
	mutex      sync.Mutex
	buffer     []byte
	bufferSize int
	lastRotate time.Time
}

// FileLoggerStats represents file logger statistics
type FileLoggerStats struct {
	FilePath     string    `json:"file_path"`
	CurrentSize  int64     `json:"current_size"`
	MaxSize      int64     `json:"max_size"`
	BufferSize   int       `json:"buffer_size"`
	LastRotation time.Time `json:"last_rotation"`
}

// NewFileLogger creates a new file logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := validateFileLoggerConfig(config); err != nil {
		return nil, err
	}

	fl := &FileLogger{
		config:     config,
		bufferSize: config.BufferSize,
		lastRotate: time.Now(),
	}
	if fl.bufferSize <= 0 {
		fl.bufferSize = 4096
	}
	fl.buffer = make([]byte, 0, fl.bufferSize)

	logDir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}
	if err := fl.openFile(); err != nil {
		return nil, err
	}
	return fl, nil
}

func (fl *FileLogger) openFile() error {
	file, err := os.OpenFile(fl.config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", fl.config.FilePath, err)
	}
	fl.file = file
	if stat, err := file.Stat(); err == nil {
		fl.written = stat.Size()
	}
	return nil
}

// Write buffers data and rotates the file when MaxSize would be exceeded
func (fl *FileLogger) Write(data []byte) (int, error) {
	fl.mutex.Lock()
	defer fl.mutex.Unlock()

	pending := int64(len(fl.buffer) + len(data))
	if fl.needsRotation(pending) {
		if err := fl.rotate(); err != nil {
			return 0, fmt.Errorf("log rotation failed: %w", err)
		}
	}

	if len(fl.buffer)+len(data) > fl.bufferSize {
		if err := fl.flushBuffer(); err != nil {
			return 0, err
		}
	}

	if len(data) > fl.bufferSize {
		n, err := fl.file.Write(data)
		fl.written += int64(n)
		return n, err
	}

	fl.buffer = append(fl.buffer, data...)
	if fl.config.SyncOnWrite {
		if err := fl.flushBuffer(); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

func (fl *FileLogger) flushBuffer() error {
	if len(fl.buffer) == 0 {
		return nil
	}
	n, err := fl.file.Write(fl.buffer)
	if err != nil {
		return err
	}
	fl.written += int64(n)
	fl.buffer = fl.buffer[:0]

	if fl.config.SyncOnWrite {
		return fl.file.Sync()
	}
	return nil
}

// Flush flushes any buffered data
func (fl *FileLogger) Flush() error {
	fl.mutex.Lock()
	defer fl.mutex.Unlock()
	return fl.flushBuffer()
}

func (fl *FileLogger) needsRotation(additionalBytes int64) bool {
	if fl.config.MaxSize <= 0 {
		return false
	}
	return fl.written+additionalBytes > fl.config.MaxSize
}

func (fl *FileLogger) rotate() error {
	if err := fl.flushBuffer(); err != nil {
		return err
	}
	if fl.file != nil {
		fl.file.Close()
	}

	backupPath := fmt.Sprintf("%s.%s", fl.config.FilePath, time.Now().Format("2006-01-02T15-04-05.000000000"))
	if err := os.Rename(fl.config.FilePath, backupPath); err != nil {
		return fmt.Errorf("failed to create backup %s: %w", backupPath, err)
	}

	fl.cleanupOldBackups()

	if err := fl.openFile(); err != nil {
		return err
	}
	fl.written = 0
	fl.lastRotate = time.Now()
	return nil
}

// cleanupOldBackups keeps the newest MaxBackups rotated files
func (fl *FileLogger) cleanupOldBackups() {
	if fl.config.MaxBackups <= 0 {
		return
	}
	backups, err := filepath.Glob(fl.config.FilePath + ".*")
	if err != nil || len(backups) <= fl.config.MaxBackups {
		return
	}
	// timestamp suffixes sort chronologically
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-fl.config.MaxBackups] {
		os.Remove(old)
	}
}

// RotateNow forces immediate log rotation
func (fl *FileLogger) RotateNow() error {
	fl.mutex.Lock()
	defer fl.mutex.Unlock()
	return fl.rotate()
}

// Close flushes and closes the file
func (fl *FileLogger) Close() error {
	fl.mutex.Lock()
	defer fl.mutex.Unlock()

	if err := fl.flushBuffer(); err != nil {
		return err
	}
	if fl.file != nil {
		return fl.file.Close()
	}
	return nil
}

// GetStats returns file logger statistics
func (fl *FileLogger) GetStats() FileLoggerStats {
	fl.mutex.Lock()
	defer fl.mutex.Unlock()

	return FileLoggerStats{
		FilePath:     fl.config.FilePath,
		CurrentSize:  fl.written,
		MaxSize:      fl.config.MaxSize,
		BufferSize:   len(fl.buffer),
		LastRotation: fl.lastRotate,
	}
}

func validateFileLoggerConfig(config FileLoggerConfig) error {
	if config.FilePath == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if config.MaxSize < 0 {
		return fmt.Errorf("max size cannot be negative")
	}
	if config.MaxBackups < 0 {
		return fmt.Errorf("max backups cannot be negative")
	}
	return nil
}

// NewFromConfig builds the process logger. The returned closer flushes the
// log file, if any, and is never nil.
func NewFromConfig(component string, cfg Config) (Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	if cfg.FilePath == "" {
		return NewWithWriter(component, os.Stdout, level), nopCloser{}, nil
	}

	fl, err := NewFileLogger(FileLoggerConfig{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
	})
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = fl
	if cfg.Stdout {
		w = zerolog.MultiLevelWriter(os.Stdout, fl)
	}
	return NewWithWriter(component, w, level), fl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
