package restore

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/backweb/backweb/internal/rdiff"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
)

// writeArchive walks root depth-first (directories before their
// children) and writes one archive of the requested kind to w.
func writeArchive(w io.Writer, root string, codec *rdiff.Codec, kind string) error {
	switch kind {
	case KindZip:
		return writeZip(w, root, codec)
	case KindTar:
		return writeTar(w, root)
	case KindTarGz:
		gz := gzip.NewWriter(w)
		if errTar := writeTar(gz, root); errTar != nil {
			_ = gz.Close()
			return errTar
		}
		return gz.Close()
	case KindTarBz2:
		bz, errNew := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if errNew != nil {
			return fmt.Errorf("restore: bzip2 writer: %w", errNew)
		}
		if errTar := writeTar(bz, root); errTar != nil {
			_ = bz.Close()
			return errTar
		}
		return bz.Close()
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// writeTar preserves entry names as raw bytes, so mis-encoded filenames
// round-trip losslessly. Symlinks and modes are carried through; pax
// headers kick in automatically for long names and large files.
func writeTar(w io.Writer, root string) error {
	tw := tar.NewWriter(w)
	errWalk := walkEntries(root, func(rel string, info os.FileInfo, full string) error {
		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			target, errLink := os.Readlink(full)
			if errLink != nil {
				return fmt.Errorf("restore: readlink %s: %w", rel, errLink)
			}
			link = target
		}
		header, errHeader := tar.FileInfoHeader(info, link)
		if errHeader != nil {
			return fmt.Errorf("restore: tar header %s: %w", rel, errHeader)
		}
		header.Name = rel
		if info.IsDir() {
			header.Name += "/"
		}
		if errWrite := tw.WriteHeader(header); errWrite != nil {
			return errWrite
		}
		if info.Mode().IsRegular() && info.Size() > 0 {
			file, errOpen := os.Open(full)
			if errOpen != nil {
				return fmt.Errorf("restore: open %s: %w", rel, errOpen)
			}
			_, errCopy := io.Copy(tw, file)
			_ = file.Close()
			if errCopy != nil {
				return errCopy
			}
		}
		return nil
	})
	if errWalk != nil {
		return errWalk
	}
	return tw.Close()
}

// writeZip decodes entry names with the repository codec, replacing
// invalid sequences: zip has no portable raw-byte name convention.
// Symlinks and other non-regular files are skipped. Deflate is the
// default method; empty files are stored.
func writeZip(w io.Writer, root string, codec *rdiff.Codec) error {
	zw := zip.NewWriter(w)
	errWalk := walkEntries(root, func(rel string, info os.FileInfo, full string) error {
		name := codec.Decode([]byte(rel))
		if info.IsDir() {
			header := &zip.FileHeader{Name: name + "/", Method: zip.Store}
			header.SetMode(info.Mode())
			header.Modified = info.ModTime()
			_, errCreate := zw.CreateHeader(header)
			return errCreate
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		method := zip.Deflate
		if info.Size() == 0 {
			method = zip.Store
		}
		header := &zip.FileHeader{Name: name, Method: method}
		header.SetMode(info.Mode())
		header.Modified = info.ModTime()
		entry, errCreate := zw.CreateHeader(header)
		if errCreate != nil {
			return errCreate
		}
		file, errOpen := os.Open(full)
		if errOpen != nil {
			return fmt.Errorf("restore: open %s: %w", rel, errOpen)
		}
		_, errCopy := io.Copy(entry, file)
		_ = file.Close()
		return errCopy
	})
	if errWalk != nil {
		return errWalk
	}
	return zw.Close()
}

// walkEntries visits every entry under root except root itself, in
// lexical depth-first order with directories before their children.
// Entries use forward slashes relative to root.
func walkEntries(root string, visit func(rel string, info os.FileInfo, full string) error) error {
	return filepath.WalkDir(root, func(full string, entry fs.DirEntry, errWalk error) error {
		if errWalk != nil {
			return errWalk
		}
		if full == root {
			return nil
		}
		rel, errRel := filepath.Rel(root, full)
		if errRel != nil {
			return errRel
		}
		info, errInfo := entry.Info()
		if errInfo != nil {
			return errInfo
		}
		return visit(strings.ReplaceAll(rel, string(os.PathSeparator), "/"), info, full)
	})
}
