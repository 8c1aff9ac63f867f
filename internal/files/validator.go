package files

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// MaxFileSize bounds a single shared file. Payloads are reassembled in
// memory on every receiving peer.
const MaxFileSize = 512 * 1024 * 1024

// FileInfo holds information about a file to be shared
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	// Type is the MIME type of the file (e.g., "application/pdf", "text/plain")
	Type string
}

// ValidateFiles checks that every path is a readable regular file and
// returns their info, or one error listing every problem.
func ValidateFiles(fs afero.Fs, paths []string) ([]FileInfo, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files specified")
	}

	var infos []FileInfo
	var problems []string
	for _, path := range paths {
		info, err := validateSingleFile(fs, path)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		infos = append(infos, info)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("file validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return infos, nil
}

func validateSingleFile(fs afero.Fs, path string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := fs.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	}
	if stat.Size() > MaxFileSize {
		return FileInfo{}, fmt.Errorf("%s: larger than %d MB", path, MaxFileSize/(1024*1024))
	}

	f, err := fs.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	f.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: MimeType(absPath),
	}, nil
}

// MimeType guesses a MIME type from the file extension.
func MimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// TotalSize returns the total size of all files
func TotalSize(infos []FileInfo) int64 {
	var total int64
	for _, f := range infos {
		total += f.Size
	}
	return total
}
