package container

import (
	"context"
	"fmt"
	"path"

	imagepkg "github.com/lattice-rt/cage/pkg/image"
	"github.com/lattice-rt/cage/pkg/loader"
	"github.com/lattice-rt/cage/pkg/rtos"
)

// ensureImagesDir creates /var/container/images on demand, mirroring
// image.Unpack's own on-demand parent creation.
func (m *Manager) ensureImagesDir() error {
	if _, err := m.store.Stat(ImagesDir); err == nil {
		return nil
	}
	if _, err := m.store.Stat("/var"); err != nil {
		if err := m.store.Mkdir("/var"); err != nil {
			return fmt.Errorf("container: mkdir /var: %w", err)
		}
	}
	if _, err := m.store.Stat("/var/container"); err != nil {
		if err := m.store.Mkdir("/var/container"); err != nil {
			return fmt.Errorf("container: mkdir /var/container: %w", err)
		}
	}
	if err := m.store.Mkdir(ImagesDir); err != nil {
		return fmt.Errorf("container: mkdir %s: %w", ImagesDir, err)
	}
	return nil
}

// LoadImage implements "container-load <path>": copies an image from
// srcPath into the canonical image store under its basename.
func (m *Manager) LoadImage(srcPath string) error {
	if err := m.ensureImagesDir(); err != nil {
		return err
	}
	data, err := m.store.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("container: read %s: %w", srcPath, err)
	}
	dest := ImagesDir + "/" + path.Base(srcPath)
	if err := m.store.WriteFile(dest, data); err != nil {
		return fmt.Errorf("container: write %s: %w", dest, err)
	}
	return nil
}

// SaveImage implements "container-save <id> <path>": packs a container's
// working directory back into the bit-exact image format at destPath. It
// addresses the directory by the fixed root-directory naming rule rather
// than the in-memory container record, so a save survives a process
// restart even though the container list itself does not.
func (m *Manager) SaveImage(id uint64, destPath string) error {
	return imagepkg.Pack(m.store, rootDirFor(id), destPath)
}

// ListImages implements "container-image": lists the canonical image
// store's contents.
func (m *Manager) ListImages() ([]string, error) {
	if err := m.ensureImagesDir(); err != nil {
		return nil, err
	}
	entries, err := m.store.ReadDir(ImagesDir)
	if err != nil {
		return nil, fmt.Errorf("container: readdir %s: %w", ImagesDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

// RunInPlace implements "run <elf-path>": loads and executes an ELF file
// in the calling task's own context (no container, no namespace
// construction), reading through the same chroot-aware view any other
// path-bearing operation would use.
func (m *Manager) RunInPlace(ctx context.Context, caller rtos.TaskID, elfPath string) error {
	elf, err := m.fs.ReadFile(caller, elfPath)
	if err != nil {
		return fmt.Errorf("container: read %s: %w", elfPath, err)
	}
	return m.loader.Load(ctx, elf, loader.LoadArgs{Path: elfPath})
}
