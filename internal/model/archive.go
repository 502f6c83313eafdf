package model

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"kuroko/internal/util"
)

// ArchiveSuffix is appended to archived model directory names.
const ArchiveSuffix = ".tar.zst"

// ArchiveModelDir packs a superseded model directory into
// archiveDir/<name>.tar.zst and removes the source directory on success.
// Returns the archive path.
func ArchiveModelDir(srcDir, archiveDir, name string) (string, error) {
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}
	archivePath := filepath.Join(archiveDir, name+ArchiveSuffix)
	if err := writeTarZst(srcDir, archivePath); err != nil {
		_ = os.Remove(archivePath)
		return "", err
	}
	if err := os.RemoveAll(srcDir); err != nil {
		return "", err
	}
	return archivePath, nil
}

func writeTarZst(srcDir, archivePath string) (err error) {
	file, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(file, "model archive")

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := zw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	tw := tar.NewWriter(zw)
	defer func() {
		if closeErr := tw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, src); err != nil {
			util.CloseWithErr(src, "archive source")
			return err
		}
		util.CloseWithErr(src, "archive source")
		return nil
	})
}
