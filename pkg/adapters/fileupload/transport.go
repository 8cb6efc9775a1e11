// Package fileupload delivers upload units to the local file system, either
// appended to one output file or as numbered part files.
package fileupload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/user/webmshrink/pkg/ports"
)

// Transport implements ports.UploadTransport on a ports.FileSystem.
type Transport struct {
	dir   string
	fs    ports.FileSystem
	parts bool

	mu      sync.Mutex
	written map[string][]string
}

// New creates a transport writing below dir. With parts set, each unit
// becomes its own file and Complete writes a part list next to them.
func New(dir string, fs ports.FileSystem, parts bool) *Transport {
	return &Transport{
		dir:     dir,
		fs:      fs,
		parts:   parts,
		written: make(map[string][]string),
	}
}

// Path returns where the output for filename ends up.
func (t *Transport) Path(filename string) string {
	return filepath.Join(t.dir, filename)
}

// Upload writes one unit.
func (t *Transport) Upload(ctx context.Context, unit ports.UploadUnit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := t.Path(unit.Filename)
	if t.parts {
		path = t.partPath(unit.Filename, unit.Index)
	}
	// Recorded before writing so Abort also removes a partial write.
	t.track(unit.Filename, path)

	var err error
	switch {
	case t.parts, unit.Index == 0:
		// truncate leftovers of an earlier run
		err = t.fs.WriteFile(path, unit.Data)
	default:
		err = t.fs.AppendFile(path, unit.Data)
	}
	if err != nil {
		return fmt.Errorf("write unit %d: %w", unit.Index, err)
	}
	return nil
}

func (t *Transport) track(filename, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.written[filename] {
		if p == path {
			return
		}
	}
	t.written[filename] = append(t.written[filename], path)
}

type partList struct {
	Filename   string   `json:"filename"`
	Parts      []string `json:"parts"`
	TotalBytes int64    `json:"totalBytes"`
}

// Complete writes the part list in parts mode. A single output file is
// already complete.
func (t *Transport) Complete(ctx context.Context, summary ports.UploadSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	paths := t.written[summary.Filename]
	delete(t.written, summary.Filename)
	t.mu.Unlock()

	if summary.Units == 0 {
		// nothing was flushed; leave an empty output behind
		return t.fs.WriteFile(t.Path(summary.Filename), nil)
	}
	if !t.parts {
		return nil
	}

	list := partList{Filename: summary.Filename, TotalBytes: summary.TotalBytes}
	for _, p := range paths {
		list.Parts = append(list.Parts, filepath.Base(p))
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return t.fs.WriteFile(t.Path(summary.Filename)+".parts.json", data)
}

// Abort removes everything written for filename.
func (t *Transport) Abort(ctx context.Context, filename string) error {
	t.mu.Lock()
	paths := t.written[filename]
	delete(t.written, filename)
	t.mu.Unlock()

	var firstErr error
	for _, p := range paths {
		// a failed first write may not have created the file
		if err := t.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Transport) partPath(filename string, index int) string {
	return filepath.Join(t.dir, fmt.Sprintf("%s.part-%04d", filename, index))
}

var _ ports.UploadTransport = (*Transport)(nil)
