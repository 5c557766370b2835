package resolve

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DiskCache keeps fetched images on disk, keyed by URL and output variant.
// The oldest entries go first once the directory outgrows MaxBytes.
type DiskCache struct {
	Dir      string
	MaxBytes int64

	mu  sync.Mutex
	now func() time.Time
}

// NewDiskCache returns a cache rooted at dir holding up to maxMB megabytes.
func NewDiskCache(dir string, maxMB int) *DiskCache {
	return &DiskCache{Dir: dir, MaxBytes: int64(maxMB) << 20, now: time.Now}
}

func (c *DiskCache) key(variant, url string) (string, string) {
	h := sha1.Sum([]byte(variant + "|" + url))
	name := hex.EncodeToString(h[:])
	dir := filepath.Join(c.Dir, name[0:1], name[1:2])
	return dir, filepath.Join(dir, name+".bin")
}

// Get returns a cached entry. A nil cache always misses.
func (c *DiskCache) Get(variant, url string) (Result, bool) {
	if c == nil || c.Dir == "" {
		return Result{}, false
	}
	_, path := c.key(variant, url)
	f, err := os.Open(path)
	if err != nil {
		return Result{}, false
	}
	defer f.Close()
	mt, size, data, err := readEntry(f)
	if err != nil {
		return Result{}, false
	}
	now := c.clock()
	_ = os.Chtimes(path, now, now)
	return Result{OK: true, DataURL: DataURL(mt, data), OriginalSize: size, MimeType: mt}, true
}

// Put stores data under url. Failures are ignored.
func (c *DiskCache) Put(variant, url, mime string, originalSize int, data []byte) {
	if c == nil || c.Dir == "" || len(mime) > 0xFFFF {
		return
	}
	dir, path := c.key(variant, url)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return
	}
	if err := writeEntry(f, mime, originalSize, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return
	}
	c.prune()
}

func writeEntry(w io.Writer, mime string, originalSize int, data []byte) error {
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(len(mime)))
	binary.BigEndian.PutUint32(hdr[2:6], uint32(originalSize))
	if _, err := w.Write(hdr[:2]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, mime); err != nil {
		return err
	}
	if _, err := w.Write(hdr[2:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func (c *DiskCache) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

var errShortEntry = errors.New("resolve: short cache entry")

func readEntry(r io.Reader) (string, int, []byte, error) {
	var n [2]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", 0, nil, errShortEntry
	}
	mt := make([]byte, binary.BigEndian.Uint16(n[:]))
	if _, err := io.ReadFull(r, mt); err != nil {
		return "", 0, nil, errShortEntry
	}
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return "", 0, nil, errShortEntry
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, nil, err
	}
	if len(data) == 0 {
		return "", 0, nil, errShortEntry
	}
	return string(mt), int(binary.BigEndian.Uint32(size[:])), data, nil
}

func (c *DiskCache) prune() {
	if c.MaxBytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	type entry struct {
		path string
		size int64
		mod  time.Time
	}
	var (
		files []entry
		total int64
	)
	_ = filepath.WalkDir(c.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".bin") {
			return nil
		}
		if info, e := d.Info(); e == nil {
			files = append(files, entry{p, info.Size(), info.ModTime()})
			total += info.Size()
		}
		return nil
	})
	if total <= c.MaxBytes {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, f := range files {
		if total <= c.MaxBytes {
			break
		}
		_ = os.Remove(f.path)
		total -= f.size
	}
}
