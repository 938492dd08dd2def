// Package backup archives and restores the SQLite history database as a
// tar.gz bundle, optionally with the config file next to it.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

// maxEntryBytes caps a single restored file.
const maxEntryBytes = 8 << 30

// Backup writes a tar.gz archive holding a consistent copy of the database
// at dbPath and, when present, configPath. The copy is taken with VACUUM
// INTO so a running service can keep writing.
func Backup(ctx context.Context, dbPath, configPath, outputPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database file not found: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "accumulator-backup-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, filepath.Base(dbPath))
	if err := vacuumInto(ctx, dbPath, snapshot); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	werr := addFileToTar(tw, snapshot, filepath.Base(dbPath))
	if werr == nil && configPath != "" {
		if _, statErr := os.Stat(configPath); statErr == nil {
			werr = addFileToTar(tw, configPath, filepath.Base(configPath))
		}
	}

	// Close in order; the archive is only valid if every layer flushes.
	werr = errors.Join(werr, tw.Close(), gw.Close(), outFile.Close())
	if werr != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("writing archive: %w", werr)
	}
	return nil
}

// vacuumInto writes a compacted, self-contained copy of src to dst.
func vacuumInto(ctx context.Context, src, dst string) error {
	db, err := sql.Open("sqlite", src)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "VACUUM INTO ?", dst)
	return err
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}

// Restore extracts every regular file of the archive at inputPath into
// destDir. Existing files are only replaced when force is set.
func Restore(_ context.Context, inputPath, destDir string, force bool) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer in.Close()

	gr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("reading gzip: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name, err := safeName(hdr.Name)
		if err != nil {
			return err
		}
		if err := extractFile(tr, filepath.Join(destDir, name), hdr.FileInfo().Mode().Perm(), force); err != nil {
			return fmt.Errorf("restoring %s: %w", name, err)
		}
	}
}

// safeName rejects archive entries that would land outside destDir.
func safeName(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the target directory", name)
	}
	return clean, nil
}

func extractFile(r io.Reader, target string, perm os.FileMode, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, flags, perm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s exists, use -force to overwrite", target)
		}
		return err
	}
	_, err = io.Copy(f, io.LimitReader(r, maxEntryBytes))
	return errors.Join(err, f.Close())
}
