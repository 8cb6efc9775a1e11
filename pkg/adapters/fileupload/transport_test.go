package fileupload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"testing"

	"github.com/user/webmshrink/pkg/mocks"
	"github.com/user/webmshrink/pkg/ports"
)

func upload(t *testing.T, tr *Transport, chunks ...string) ports.UploadSummary {
	t.Helper()
	var offset int64
	for i, c := range chunks {
		unit := ports.UploadUnit{Filename: "clip-240p.webm", Index: i, Offset: offset, Data: []byte(c)}
		if err := tr.Upload(context.Background(), unit); err != nil {
			t.Fatalf("Upload %d: %v", i, err)
		}
		offset += int64(len(c))
	}
	return ports.UploadSummary{Filename: "clip-240p.webm", Units: len(chunks), TotalBytes: offset}
}

func TestTransport_SingleFile(t *testing.T) {
	fs := mocks.NewFileSystem()
	fs.WriteFile(filepath.Join("out", "clip-240p.webm"), []byte("stale data from an earlier run"))
	tr := New("out", fs, false)

	summary := upload(t, tr, "EBML", "cluster1", "cluster2")
	if err := tr.Complete(context.Background(), summary); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	data, ok := fs.GetFile(filepath.Join("out", "clip-240p.webm"))
	if !ok {
		t.Fatal("expected output file")
	}
	if string(data) != "EBMLcluster1cluster2" {
		t.Errorf("output = %q", data)
	}
}

func TestTransport_Parts(t *testing.T) {
	fs := mocks.NewFileSystem()
	tr := New("out", fs, true)

	summary := upload(t, tr, "aa", "bbb")
	if err := tr.Complete(context.Background(), summary); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if data, _ := fs.GetFile(filepath.Join("out", "clip-240p.webm.part-0001")); string(data) != "bbb" {
		t.Errorf("part 1 = %q", data)
	}

	raw, ok := fs.GetFile(filepath.Join("out", "clip-240p.webm.parts.json"))
	if !ok {
		t.Fatal("expected part list")
	}
	var list partList
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Parts) != 2 || list.Parts[0] != "clip-240p.webm.part-0000" || list.TotalBytes != 5 {
		t.Errorf("unexpected part list: %+v", list)
	}
}

func TestTransport_Abort(t *testing.T) {
	fs := mocks.NewFileSystem()
	tr := New("out", fs, true)

	upload(t, tr, "aa", "bbb", "c")
	if err := tr.Abort(context.Background(), "clip-240p.webm"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if n := len(fs.GetAllFiles()); n != 0 {
		t.Errorf("expected all parts removed, %d left", n)
	}
}

func TestTransport_EmptyOutput(t *testing.T) {
	fs := mocks.NewFileSystem()
	tr := New("out", fs, false)

	if err := tr.Complete(context.Background(), ports.UploadSummary{Filename: "empty.webm"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := fs.GetFile(filepath.Join("out", "empty.webm")); !ok {
		t.Error("expected an empty output file")
	}
}

func TestTransport_WriteError(t *testing.T) {
	fs := mocks.NewFileSystem()
	fs.WriteFileFunc = func(path string, data []byte) error { return errors.New("disk full") }
	tr := New("out", fs, false)

	err := tr.Upload(context.Background(), ports.UploadUnit{Filename: "x.webm", Data: []byte("x")})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestTransport_AbortRemovesPartialWrite(t *testing.T) {
	for _, parts := range []bool{false, true} {
		t.Run(fmt.Sprintf("parts=%v", parts), func(t *testing.T) {
			fs := mocks.NewFileSystem()
			// the write lands partially, then fails
			fs.WriteFileFunc = func(path string, data []byte) error {
				fs.WriteFileFunc = nil
				fs.WriteFile(path, data[:1])
				return errors.New("disk full")
			}
			tr := New("out", fs, parts)

			err := tr.Upload(context.Background(), ports.UploadUnit{Filename: "x.webm", Data: []byte("EBML")})
			if err == nil {
				t.Fatal("expected error")
			}
			if n := len(fs.GetAllFiles()); n != 1 {
				t.Fatalf("expected the partial file, got %d files", n)
			}

			if err := tr.Abort(context.Background(), "x.webm"); err != nil {
				t.Fatalf("Abort: %v", err)
			}
			if n := len(fs.GetAllFiles()); n != 0 {
				t.Errorf("expected the partial file removed, %d left", n)
			}
		})
	}
}

func TestTransport_AbortAfterFailedCreate(t *testing.T) {
	fs := mocks.NewFileSystem()
	fs.WriteFileFunc = func(path string, data []byte) error { return errors.New("disk full") }
	fs.RemoveFunc = func(path string) error { return fmt.Errorf("remove %s: %w", path, iofs.ErrNotExist) }
	tr := New("out", fs, false)

	if err := tr.Upload(context.Background(), ports.UploadUnit{Filename: "x.webm", Data: []byte("x")}); err == nil {
		t.Fatal("expected error")
	}
	if err := tr.Abort(context.Background(), "x.webm"); err != nil {
		t.Errorf("Abort should ignore a file that was never created: %v", err)
	}
}

func TestTransport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := New("out", mocks.NewFileSystem(), false)
	if err := tr.Upload(ctx, ports.UploadUnit{Filename: "x.webm"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
