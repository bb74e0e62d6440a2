// Package fsdir backs the document store with a directory on the local disk.
package fsdir

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"elkhaled/pos/internal/docstore"
)

var ErrInvalidName = errors.New("invalid document name")

type Directory struct {
	path string
}

// Open is the docstore.Opener for docstore.KindDirectory handles.
func Open(_ context.Context, handle docstore.Handle) (docstore.Directory, error) {
	path := strings.TrimSpace(handle.Location)
	if path == "" {
		return nil, errors.New("open directory: empty location")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open directory: %s is not a directory", path)
	}
	return &Directory{path: path}, nil
}

func (d *Directory) Name() string {
	return filepath.Base(d.path)
}

func (d *Directory) Path() string {
	return d.path
}

// QueryPermission tries the directory with a throwaway file. A directory
// the process cannot write to reports prompt so the caller may ask again.
func (d *Directory) QueryPermission(_ context.Context) (docstore.Permission, error) {
	err := d.checkWritable()
	switch {
	case err == nil:
		return docstore.PermissionGranted, nil
	case errors.Is(err, os.ErrPermission):
		return docstore.PermissionPrompt, nil
	default:
		return docstore.PermissionDenied, err
	}
}

// RequestPermission tries the directory again. There is no one to ask on
// a plain directory, so the mode is left to the operator and a directory
// that is still not writable reports denied.
func (d *Directory) RequestPermission(_ context.Context) (docstore.Permission, error) {
	if err := d.checkWritable(); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return docstore.PermissionDenied, nil
		}
		return docstore.PermissionDenied, err
	}
	return docstore.PermissionGranted, nil
}

func (d *Directory) ReadFile(_ context.Context, name string) ([]byte, error) {
	path, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile replaces the document through a temp file and a rename so a
// reader never sees a half-written body.
func (d *Directory) WriteFile(_ context.Context, name string, data []byte) error {
	path, err := d.resolve(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.path, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (d *Directory) Exists(_ context.Context, name string) (bool, error) {
	path, err := d.resolve(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (d *Directory) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(d.path, name), nil
}

func (d *Directory) checkWritable() error {
	f, err := os.CreateTemp(d.path, ".pos-write-*")
	if err != nil {
		return err
	}
	_ = f.Close()
	return os.Remove(f.Name())
}

// Picker selects a directory from a configured path, or asks on a terminal
// when none is configured. The chosen directory is created when missing.
type Picker struct {
	Path string
	In   io.Reader
	Out  io.Writer
}

func (p Picker) Pick(_ context.Context) (docstore.Handle, error) {
	path := strings.TrimSpace(p.Path)
	if path == "" {
		if p.In == nil {
			return docstore.Handle{}, docstore.ErrCancelled
		}
		if p.Out != nil {
			fmt.Fprint(p.Out, "Data directory: ")
		}
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return docstore.Handle{}, err
		}
		path = strings.TrimSpace(line)
		if path == "" {
			return docstore.Handle{}, docstore.ErrCancelled
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return docstore.Handle{}, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return docstore.Handle{}, docstore.ErrPermissionDenied
		}
		return docstore.Handle{}, err
	}
	return Handle(abs), nil
}

// Handle builds the persisted handle for a directory path.
func Handle(path string) docstore.Handle {
	return docstore.Handle{Kind: docstore.KindDirectory, Location: path, Name: filepath.Base(path)}
}
