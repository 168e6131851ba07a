package flash

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names: one bucket per logical table, created at open time and
// looked up inside each transaction.
var (
	bucketFiles = []byte("files")
	bucketDirs  = []byte("dirs")
)

type dirRecord struct {
	ModTime time.Time `json:"mod_time"`
}

type fileRecord struct {
	Data    []byte    `json:"data"`
	ModTime time.Time `json:"mod_time"`
}

// BoltStore implements Store on top of a single bbolt file, modeling flash
// media addressed as a flat key space: a key->byte-array store supporting
// directories, sequential read/write, stat, rename, and remove, which
// maps directly onto bbolt's bucket model.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) a bbolt-backed flash store at dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("flash: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketFiles, bucketDirs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{db: db}
	if err := s.ensureRoot(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) ensureRoot() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDirs)
		if b.Get([]byte("/")) != nil {
			return nil
		}
		data, _ := json.Marshal(dirRecord{ModTime: time.Now()})
		return b.Put([]byte("/"), data)
	})
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Stat(p string) (Info, error) {
	p = clean(p)
	var out Info
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketDirs).Get([]byte(p)); data != nil {
			var rec dirRecord
			_ = json.Unmarshal(data, &rec)
			out = Info{Name: path.Base(p), IsDir: true, ModTime: rec.ModTime}
			return nil
		}
		if data := tx.Bucket(bucketFiles).Get([]byte(p)); data != nil {
			var rec fileRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			out = Info{Name: path.Base(p), Size: int64(len(rec.Data)), ModTime: rec.ModTime}
			return nil
		}
		return ErrNotExist
	})
	return out, err
}

func (s *BoltStore) ReadFile(p string) ([]byte, error) {
	p = clean(p)
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(p))
		if data == nil {
			return ErrNotExist
		}
		var rec fileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		out = rec.Data
		return nil
	})
	return out, err
}

func (s *BoltStore) WriteFile(p string, data []byte) error {
	p = clean(p)
	parent := parentOf(p)
	return s.db.Update(func(tx *bolt.Tx) error {
		dirs := tx.Bucket(bucketDirs)
		if dirs.Get([]byte(parent)) == nil {
			return ErrNotExist
		}
		if dirs.Get([]byte(p)) != nil {
			return ErrIsDir
		}
		rec := fileRecord{Data: data, ModTime: time.Now()}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFiles).Put([]byte(p), encoded)
	})
}

func (s *BoltStore) Remove(p string) error {
	p = clean(p)
	return s.db.Update(func(tx *bolt.Tx) error {
		dirs := tx.Bucket(bucketDirs)
		files := tx.Bucket(bucketFiles)

		if dirs.Get([]byte(p)) != nil {
			prefix := []byte(p + "/")
			c := dirs.Cursor()
			for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
				return ErrNotEmpty
			}
			fc := files.Cursor()
			for k, _ := fc.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = fc.Next() {
				return ErrNotEmpty
			}
			return dirs.Delete([]byte(p))
		}
		if files.Get([]byte(p)) == nil {
			return ErrNotExist
		}
		return files.Delete([]byte(p))
	})
}

func (s *BoltStore) Rename(oldPath, newPath string) error {
	oldPath, newPath = clean(oldPath), clean(newPath)
	return s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		dirs := tx.Bucket(bucketDirs)

		if data := files.Get([]byte(oldPath)); data != nil {
			if err := files.Put([]byte(newPath), data); err != nil {
				return err
			}
			return files.Delete([]byte(oldPath))
		}
		if data := dirs.Get([]byte(oldPath)); data != nil {
			prefix := oldPath + "/"
			dirRenames := map[string][]byte{newPath: append([]byte(nil), data...)}
			fileRenames := map[string][]byte{}
			var oldDirKeys, oldFileKeys [][]byte

			dc := dirs.Cursor()
			for k, v := dc.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = dc.Next() {
				dirRenames[newPath+strings.TrimPrefix(string(k), oldPath)] = append([]byte(nil), v...)
				oldDirKeys = append(oldDirKeys, append([]byte(nil), k...))
			}
			fc := files.Cursor()
			for k, v := fc.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = fc.Next() {
				fileRenames[newPath+strings.TrimPrefix(string(k), oldPath)] = append([]byte(nil), v...)
				oldFileKeys = append(oldFileKeys, append([]byte(nil), k...))
			}

			if err := dirs.Delete([]byte(oldPath)); err != nil {
				return err
			}
			for _, k := range oldDirKeys {
				if err := dirs.Delete(k); err != nil {
					return err
				}
			}
			for _, k := range oldFileKeys {
				if err := files.Delete(k); err != nil {
					return err
				}
			}
			for np, v := range dirRenames {
				if err := dirs.Put([]byte(np), v); err != nil {
					return err
				}
			}
			for np, v := range fileRenames {
				if err := files.Put([]byte(np), v); err != nil {
					return err
				}
			}
			return nil
		}
		return ErrNotExist
	})
}

func (s *BoltStore) Mkdir(p string) error {
	p = clean(p)
	parent := parentOf(p)
	return s.db.Update(func(tx *bolt.Tx) error {
		dirs := tx.Bucket(bucketDirs)
		if p != "/" && dirs.Get([]byte(parent)) == nil {
			return ErrNotExist
		}
		if dirs.Get([]byte(p)) != nil {
			return ErrExist
		}
		if tx.Bucket(bucketFiles).Get([]byte(p)) != nil {
			return ErrExist
		}
		data, err := json.Marshal(dirRecord{ModTime: time.Now()})
		if err != nil {
			return err
		}
		return dirs.Put([]byte(p), data)
	})
}

func (s *BoltStore) ReadDir(p string) ([]Info, error) {
	p = clean(p)
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}

	var out []Info
	err := s.db.View(func(tx *bolt.Tx) error {
		dirs := tx.Bucket(bucketDirs)
		if dirs.Get([]byte(p)) == nil {
			return ErrNotDir
		}

		dc := dirs.Cursor()
		for k, v := dc.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = dc.Next() {
			rest := strings.TrimPrefix(string(k), prefix)
			if rest == "" || strings.Contains(rest, "/") {
				continue
			}
			var rec dirRecord
			_ = json.Unmarshal(v, &rec)
			out = append(out, Info{Name: rest, IsDir: true, ModTime: rec.ModTime})
		}

		files := tx.Bucket(bucketFiles)
		fc := files.Cursor()
		for k, v := fc.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = fc.Next() {
			rest := strings.TrimPrefix(string(k), prefix)
			if rest == "" || strings.Contains(rest, "/") {
				continue
			}
			var rec fileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, Info{Name: rest, Size: int64(len(rec.Data)), ModTime: rec.ModTime})
		}
		return nil
	})
	return out, err
}
