package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilePersister keeps the token as a JSON file, replaced atomically on save.
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (f *FilePersister) Path() string { return f.path }

func (f *FilePersister) Load(_ context.Context) (Token, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Token{}, ErrNoToken
	}
	if err != nil {
		return Token{}, &PersistenceError{Op: "load", Path: f.path, Err: err}
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return Token{}, &PersistenceError{Op: "load", Path: f.path, Err: fmt.Errorf("decode: %w", err)}
	}
	if tok.IsZero() {
		return Token{}, ErrNoToken
	}
	return tok, nil
}

// Save writes to a temp file in the same directory, syncs it and renames it
// over the target, so a crash never leaves a truncated token file.
func (f *FilePersister) Save(_ context.Context, tok Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	return nil
}
