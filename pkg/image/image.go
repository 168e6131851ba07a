// Package image implements the container image codec: a bit-exact
// serialization of a flat directory of up to 255 files.
//
// Format: one byte N (file count, 0<=N<=255); then N records, each: 8 bytes
// little-endian file size S; 256 bytes filename (NUL-terminated,
// zero-padded, last byte forced to NUL on read); S bytes payload. No
// checksums, no alignment padding, no directory support.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lattice-rt/cage/internal/log"
	"github.com/lattice-rt/cage/pkg/flash"
)

const (
	maxFiles       = 255
	nameFieldBytes = 256
)

var (
	ErrTooManyFiles  = errors.New("image: more than 255 files")
	ErrTruncated     = errors.New("image: truncated record")
	ErrAlreadyExists = errors.New("image: container directory already exists")
)

// File is one decoded record: a name and its payload.
type File struct {
	Name string
	Data []byte
}

// Encode serializes files into the bit-exact wire format. Filenames longer
// than 255 bytes are truncated (plus the trailing NUL).
func Encode(files []File) ([]byte, error) {
	if len(files) > maxFiles {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyFiles, len(files))
	}

	buf := make([]byte, 0, 1+len(files)*(8+nameFieldBytes))
	buf = append(buf, byte(len(files)))

	for _, f := range files {
		var sizeField [8]byte
		binary.LittleEndian.PutUint64(sizeField[:], uint64(len(f.Data)))
		buf = append(buf, sizeField[:]...)

		nameField := make([]byte, nameFieldBytes)
		name := f.Name
		if len(name) > nameFieldBytes-1 {
			name = name[:nameFieldBytes-1]
		}
		copy(nameField, name)
		nameField[nameFieldBytes-1] = 0
		buf = append(buf, nameField...)

		buf = append(buf, f.Data...)
	}
	return buf, nil
}

// Decode parses the bit-exact wire format back into a slice of Files.
func Decode(data []byte) ([]File, error) {
	if len(data) < 1 {
		return nil, ErrTruncated
	}
	count := int(data[0])
	offset := 1

	files := make([]File, 0, count)
	for i := 0; i < count; i++ {
		if offset+8 > len(data) {
			return nil, ErrTruncated
		}
		size := binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8

		if offset+nameFieldBytes > len(data) {
			return nil, ErrTruncated
		}
		nameField := make([]byte, nameFieldBytes)
		copy(nameField, data[offset:offset+nameFieldBytes])
		nameField[nameFieldBytes-1] = 0 // forced to NUL on read
		offset += nameFieldBytes

		name := cString(nameField)

		end := offset + int(size)
		if end < offset || end > len(data) {
			return nil, ErrTruncated
		}
		payload := make([]byte, size)
		copy(payload, data[offset:end])
		offset = end

		files = append(files, File{Name: name, Data: payload})
	}
	return files, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// containerDir is the per-container working directory.
func containerDir(id uint64) string {
	return fmt.Sprintf("/var/container/%d", id)
}

// Unpack reads the image at imagePath and writes each record into
// /var/container/<id>/<filename>. The container directory must not
// already exist; missing /var and /var/container parents are created on
// demand.
func Unpack(store flash.Store, imagePath string, id uint64) error {
	lg := log.WithComponent("image")

	dir := containerDir(id)
	if _, err := store.Stat(dir); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, dir)
	}

	if err := ensureDir(store, "/var"); err != nil {
		return err
	}
	if err := ensureDir(store, "/var/container"); err != nil {
		return err
	}
	if err := store.Mkdir(dir); err != nil {
		return fmt.Errorf("image: mkdir %s: %w", dir, err)
	}

	raw, err := store.ReadFile(imagePath)
	if err != nil {
		_ = store.Remove(dir)
		return fmt.Errorf("image: read %s: %w", imagePath, err)
	}

	files, err := Decode(raw)
	if err != nil {
		_ = store.Remove(dir)
		return fmt.Errorf("image: decode %s: %w", imagePath, err)
	}

	for _, f := range files {
		path := dir + "/" + f.Name
		if err := store.WriteFile(path, f.Data); err != nil {
			// Best-effort cleanup: this may leave the directory partially
			// populated if the remove itself fails.
			_ = store.Remove(dir)
			lg.Warn().Str("dir", dir).Err(err).Msg("unpack failed, cleaned up container directory")
			return fmt.Errorf("image: write %s: %w", path, err)
		}
	}
	return nil
}

func ensureDir(store flash.Store, path string) error {
	if _, err := store.Stat(path); err == nil {
		return nil
	}
	if err := store.Mkdir(path); err != nil && !errors.Is(err, flash.ErrExist) {
		return fmt.Errorf("image: mkdir %s: %w", path, err)
	}
	return nil
}

// Pack enumerates only regular files in dir (skipping subdirectories),
// counts them (must fit in one byte), and streams the bit-exact format to
// imagePath. On any failure the partially written image is removed.
//
// A second enumeration pass must observe the same order as the first
// (counting) pass; ReadDir here is called once and both "passes" iterate
// the same in-memory slice, which trivially guarantees that ordering
// regardless of what the underlying flash.Store does.
func Pack(store flash.Store, dir string, imagePath string) error {
	entries, err := store.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("image: readdir %s: %w", dir, err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		data, err := store.ReadFile(dir + "/" + e.Name)
		if err != nil {
			return fmt.Errorf("image: read %s: %w", e.Name, err)
		}
		files = append(files, File{Name: e.Name, Data: data})
	}

	if len(files) > maxFiles {
		return fmt.Errorf("%w: %d", ErrTooManyFiles, len(files))
	}

	encoded, err := Encode(files)
	if err != nil {
		return err
	}

	if err := store.WriteFile(imagePath, encoded); err != nil {
		_ = store.Remove(imagePath)
		return fmt.Errorf("image: write %s: %w", imagePath, err)
	}
	return nil
}
