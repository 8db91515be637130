package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ConsoleOutput writes entries to stderr (errors) and stdout (everything else).
type ConsoleOutput struct {
	mu sync.Mutex
	// Stdout and Stderr may be overridden for tests.
	Stdout io.Writer
	Stderr io.Writer
}

// NewConsoleOutput returns a console output bound to the process streams.
func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Write implements Output.
func (o *ConsoleOutput) Write(entry *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.Stdout
	if entry.Level >= ErrorLevel {
		w = o.Stderr
	}
	if w == nil {
		w = os.Stdout
	}
	_, err := w.Write(formatted)
	return err
}

// Close implements Output; console streams are not closed.
func (o *ConsoleOutput) Close() error { return nil }

// FileOutput appends entries to a single log file.
type FileOutput struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileOutput opens (creating parent directories) the given path for append.
func NewFileOutput(path string) (*FileOutput, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileOutput{path: path, f: f}, nil
}

// Write implements Output.
func (o *FileOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return fmt.Errorf("log file %s closed", o.path)
	}
	_, err := o.f.Write(formatted)
	return err
}

// Close implements Output.
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return nil
	}
	err := o.f.Close()
	o.f = nil
	return err
}

// NullOutput discards everything; useful in tests.
type NullOutput struct{}

// NewNullOutput returns an output that drops all entries.
func NewNullOutput() *NullOutput { return &NullOutput{} }

// Write implements Output.
func (*NullOutput) Write(*Entry, []byte) error { return nil }

// Close implements Output.
func (*NullOutput) Close() error { return nil }
