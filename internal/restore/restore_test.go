package restore

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backweb/backweb/internal/rdiff"
	"github.com/klauspost/compress/gzip"
)

// fixturePath builds a minimal repository and returns its root Path.
func fixturePath(t *testing.T) *rdiff.Path {
	t.Helper()
	userRoot := t.TempDir()
	repoRoot := filepath.Join(userRoot, "backup")
	dataDir := filepath.Join(repoRoot, "rdiff-backup-data")
	if errMkdir := os.MkdirAll(dataDir, 0o755); errMkdir != nil {
		t.Fatalf("mkdir: %v", errMkdir)
	}
	marker := filepath.Join(dataDir, "mirror_metadata.2014-11-05T16;05804;05830-05;05800.snapshot.gz")
	if errWrite := os.WriteFile(marker, []byte{}, 0o644); errWrite != nil {
		t.Fatalf("write marker: %v", errWrite)
	}
	repo, errOpen := rdiff.Open(userRoot, "backup")
	if errOpen != nil {
		t.Fatalf("open repo: %v", errOpen)
	}
	path, errPath := repo.GetPath("")
	if errPath != nil {
		t.Fatalf("get path: %v", errPath)
	}
	return path
}

// populateRunner fills the restore target through the fake subprocess.
func populateRunner(t *testing.T, populate func(target string) error) Runner {
	t.Helper()
	return func(_ context.Context, _ string, args []string) error {
		target := args[len(args)-1]
		return populate(target)
	}
}

func asOf(t *testing.T) rdiff.Time {
	t.Helper()
	parsed, errParse := rdiff.ParseTime("2014-11-05T16:04:30-05:00")
	if errParse != nil {
		t.Fatalf("parse time: %v", errParse)
	}
	return parsed
}

func TestUnknownKindRejected(t *testing.T) {
	r := New("rdiff-backup", t.TempDir(), time.Minute)
	if _, _, errRestore := r.Restore(context.Background(), fixturePath(t), asOf(t), "rar"); !errors.Is(errRestore, ErrUnknownKind) {
		t.Fatalf("expected unknown kind error, got %v", errRestore)
	}
}

func TestRestoreSingleFileStreamsBytes(t *testing.T) {
	r := New("rdiff-backup", t.TempDir(), time.Minute)
	r.Run = populateRunner(t, func(target string) error {
		return os.WriteFile(target, []byte("hello world"), 0o644)
	})
	root := fixturePath(t)
	if errWrite := os.WriteFile(filepath.Join(root.Repo().Root, "notes.txt"), []byte("x"), 0o644); errWrite != nil {
		t.Fatalf("write mirror file: %v", errWrite)
	}
	path, errPath := root.Repo().GetPath("notes.txt")
	if errPath != nil {
		t.Fatalf("get path: %v", errPath)
	}
	filename, reader, errRestore := r.Restore(context.Background(), path, asOf(t), KindTar)
	if errRestore != nil {
		t.Fatalf("restore: %v", errRestore)
	}
	defer reader.Close()
	if filename != "notes.txt" {
		t.Fatalf("a plain file keeps its name, got %q", filename)
	}
	body, errRead := io.ReadAll(reader)
	if errRead != nil {
		t.Fatalf("read: %v", errRead)
	}
	if string(body) != "hello world" {
		t.Fatalf("unexpected body %q", body)
	}
}

func populateTree(target string) error {
	if errMkdir := os.MkdirAll(filepath.Join(target, "Revisions"), 0o755); errMkdir != nil {
		return errMkdir
	}
	if errWrite := os.WriteFile(filepath.Join(target, "Fichier @ root"), []byte("13 bytes here"), 0o644); errWrite != nil {
		return errWrite
	}
	if errWrite := os.WriteFile(filepath.Join(target, "Revisions", "Data"), []byte("some data"), 0o600); errWrite != nil {
		return errWrite
	}
	return os.Symlink("Fichier @ root", filepath.Join(target, "link"))
}

func readTarEntries(t *testing.T, reader io.Reader) map[string]int64 {
	t.Helper()
	entries := map[string]int64{}
	tr := tar.NewReader(reader)
	for {
		header, errNext := tr.Next()
		if errNext == io.EOF {
			break
		}
		if errNext != nil {
			t.Fatalf("tar next: %v", errNext)
		}
		size := header.Size
		if header.Typeflag == tar.TypeReg {
			body, errRead := io.ReadAll(tr)
			if errRead != nil {
				t.Fatalf("tar body: %v", errRead)
			}
			size = int64(len(body))
		}
		entries[header.Name] = size
	}
	return entries
}

func TestRestoreDirectoryAsTar(t *testing.T) {
	r := New("rdiff-backup", t.TempDir(), time.Minute)
	r.Run = populateRunner(t, func(target string) error { return populateTree(target) })
	path := fixturePath(t)

	filename, reader, errRestore := r.Restore(context.Background(), path, asOf(t), KindTar)
	if errRestore != nil {
		t.Fatalf("restore: %v", errRestore)
	}
	defer reader.Close()
	if filename != "backup.tar" {
		t.Fatalf("expected backup.tar, got %q", filename)
	}

	entries := readTarEntries(t, reader)
	if entries["Fichier @ root"] != 13 {
		t.Fatalf("expected 13-byte file, got %+v", entries)
	}
	if entries["Revisions/Data"] != 9 {
		t.Fatalf("expected 9-byte nested file, got %+v", entries)
	}
	if _, ok := entries["Revisions/"]; !ok {
		t.Fatalf("expected directory entry, got %+v", entries)
	}
	if _, ok := entries["link"]; !ok {
		t.Fatalf("tar must carry symlinks, got %+v", entries)
	}
}

func TestRestoreDirectoryAsTarGzAndBz2(t *testing.T) {
	for _, kind := range []string{KindTarGz, KindTarBz2} {
		r := New("rdiff-backup", t.TempDir(), time.Minute)
		r.Run = populateRunner(t, func(target string) error { return populateTree(target) })
		path := fixturePath(t)

		filename, reader, errRestore := r.Restore(context.Background(), path, asOf(t), kind)
		if errRestore != nil {
			t.Fatalf("%s: restore: %v", kind, errRestore)
		}
		if filename != "backup."+kind {
			t.Fatalf("%s: unexpected filename %q", kind, filename)
		}
		compressed, errRead := io.ReadAll(reader)
		reader.Close()
		if errRead != nil {
			t.Fatalf("%s: read: %v", kind, errRead)
		}

		var plain io.Reader
		if kind == KindTarGz {
			gz, errGz := gzip.NewReader(bytes.NewReader(compressed))
			if errGz != nil {
				t.Fatalf("gzip: %v", errGz)
			}
			plain = gz
		} else {
			plain = bzip2.NewReader(bytes.NewReader(compressed))
		}
		entries := readTarEntries(t, plain)
		if entries["Fichier @ root"] != 13 || entries["Revisions/Data"] != 9 {
			t.Fatalf("%s: unexpected entries %+v", kind, entries)
		}
	}
}

func TestRestoreDirectoryAsZipSkipsSymlinks(t *testing.T) {
	r := New("rdiff-backup", t.TempDir(), time.Minute)
	r.Run = populateRunner(t, func(target string) error { return populateTree(target) })
	path := fixturePath(t)

	filename, reader, errRestore := r.Restore(context.Background(), path, asOf(t), KindZip)
	if errRestore != nil {
		t.Fatalf("restore: %v", errRestore)
	}
	defer reader.Close()
	if filename != "backup.zip" {
		t.Fatalf("expected backup.zip, got %q", filename)
	}

	body, errRead := io.ReadAll(reader)
	if errRead != nil {
		t.Fatalf("read: %v", errRead)
	}
	archive, errZip := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if errZip != nil {
		t.Fatalf("zip open: %v", errZip)
	}
	names := map[string]uint64{}
	for _, file := range archive.File {
		names[file.Name] = file.UncompressedSize64
	}
	if names["Fichier @ root"] != 13 || names["Revisions/Data"] != 9 {
		t.Fatalf("unexpected zip entries %+v", names)
	}
	if _, ok := names["link"]; ok {
		t.Fatalf("zip must skip symlinks, got %+v", names)
	}
}

func TestTarPreservesRawByteNames(t *testing.T) {
	rawName := "Fichier avec non asci char \xc9velyne M\xe8re.txt"
	r := New("rdiff-backup", t.TempDir(), time.Minute)
	r.Run = populateRunner(t, func(target string) error {
		if errMkdir := os.MkdirAll(target, 0o755); errMkdir != nil {
			return errMkdir
		}
		return os.WriteFile(filepath.Join(target, rawName), []byte("18 bytes of stuff."), 0o644)
	})
	path := fixturePath(t)

	_, reader, errRestore := r.Restore(context.Background(), path, asOf(t), KindTarGz)
	if errRestore != nil {
		t.Fatalf("restore: %v", errRestore)
	}
	defer reader.Close()
	gz, errGz := gzip.NewReader(reader)
	if errGz != nil {
		t.Fatalf("gzip: %v", errGz)
	}
	entries := readTarEntries(t, gz)
	if entries[rawName] != 18 {
		t.Fatalf("raw-byte name must survive the tar round trip, got %+v", entries)
	}
}

func TestRunnerFailureSurfacesExecuteError(t *testing.T) {
	r := New("rdiff-backup", t.TempDir(), time.Minute)
	r.Run = func(context.Context, string, []string) error {
		return &rdiff.ExecuteError{Command: "rdiff-backup", ExitCode: 1, Stderr: "fatal"}
	}
	path := fixturePath(t)
	_, _, errRestore := r.Restore(context.Background(), path, asOf(t), KindTar)
	var execErr *rdiff.ExecuteError
	if !errors.As(errRestore, &execErr) {
		t.Fatalf("expected ExecuteError, got %v", errRestore)
	}
}

func TestEmptyRestoreIsAnError(t *testing.T) {
	r := New("rdiff-backup", t.TempDir(), time.Minute)
	r.Run = func(context.Context, string, []string) error { return nil }
	path := fixturePath(t)
	if _, _, errRestore := r.Restore(context.Background(), path, asOf(t), KindTar); !errors.Is(errRestore, ErrEmptyRestore) {
		t.Fatalf("expected empty restore error, got %v", errRestore)
	}
}

func TestScratchRemovedAfterStream(t *testing.T) {
	scratchBase := t.TempDir()
	r := New("rdiff-backup", scratchBase, time.Minute)
	r.Run = populateRunner(t, func(target string) error { return populateTree(target) })
	path := fixturePath(t)

	_, reader, errRestore := r.Restore(context.Background(), path, asOf(t), KindTar)
	if errRestore != nil {
		t.Fatalf("restore: %v", errRestore)
	}
	if _, errCopy := io.Copy(io.Discard, reader); errCopy != nil {
		t.Fatalf("drain: %v", errCopy)
	}
	reader.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		leftovers, errRead := os.ReadDir(scratchBase)
		if errRead != nil {
			t.Fatalf("read scratch base: %v", errRead)
		}
		var dirs []string
		for _, entry := range leftovers {
			if strings.HasPrefix(entry.Name(), "backweb-restore-") {
				dirs = append(dirs, entry.Name())
			}
		}
		if len(dirs) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scratch dirs not cleaned: %v", dirs)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
