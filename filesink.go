package slotlog

import (
	"bufio"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSink receives the formatted records of levels with the OUT_FILE bit.
// It is called from the consumer only; Flush runs at the end of every drain
// pass and Close on Shutdown.
type FileSink interface {
	WriteLevel(level LogLevel, cfg *LevelConfig, ts time.Time, text []byte) error
	Flush() error
	Close() error
}

// Split size used for levels without Split, large enough to never rotate.
const _NO_SPLIT_MB = 1 << 30

// RotatingFiles writes every level to the global file <dir>/<base>.log or to
// its own <dir>/<FileName>.log, optionally under a YYYYMMDD sub-directory of
// the record date. Levels with Split rotate their file when it reaches the
// split size; older parts are kept by lumberjack next to the file with a
// timestamp in the name.
type RotatingFiles struct {
	mu      sync.Mutex
	dir     string
	base    string
	splitMB int
	backups int
	files   map[string]*levelFile
}

type levelFile struct {
	path  string
	lj    *lumberjack.Logger
	buf   *bufio.Writer
	dirty bool
}

// NewRotatingFiles creates a file sink in dir. An empty base uses
// [DEFAULT_FILE_BASE], a non-positive splitMB uses [DEFAULT_SPLIT_SIZE_MB].
func NewRotatingFiles(dir, base string, splitMB int) *RotatingFiles {
	if base == "" {
		base = DEFAULT_FILE_BASE
	}
	if splitMB <= 0 {
		splitMB = DEFAULT_SPLIT_SIZE_MB
	}
	return &RotatingFiles{
		dir:     dir,
		base:    base,
		splitMB: splitMB,
		files:   map[string]*levelFile{},
	}
}

// WithMaxBackups limits the rotated parts kept per file (0 keeps all).
func (f *RotatingFiles) WithMaxBackups(n int) *RotatingFiles {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backups = max(n, 0)
	return f
}

// Path returns the file a record of cfg logged at ts goes to.
func (f *RotatingFiles) Path(cfg *LevelConfig, ts time.Time) string {
	name := cfg.FileName
	if name == "" {
		name = f.base
	}
	dir := f.dir
	if cfg.DateDir {
		dir = filepath.Join(dir, ts.Format(DEFAULT_DATE_DIR_FORMAT))
	}
	return filepath.Join(dir, name+DEFAULT_FILE_EXT)
}

func (f *RotatingFiles) WriteLevel(level LogLevel, cfg *LevelConfig, ts time.Time, text []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lf, err := f.open(cfg, ts)
	if err != nil {
		return err
	}
	if _, err = lf.buf.Write(text); err != nil {
		return fmt.Errorf("%s: %w", lf.path, err)
	}
	lf.dirty = true
	if cfg.QuickFlush {
		return lf.flush()
	}
	return nil
}

// open returns the file of cfg, reopening it when the date directory changed.
func (f *RotatingFiles) open(cfg *LevelConfig, ts time.Time) (*levelFile, error) {
	key := cfg.FileName
	if cfg.DateDir {
		key += "\x00date"
	}
	path := f.Path(cfg, ts)
	lf := f.files[key]
	if lf != nil && lf.path == path {
		return lf, nil
	}
	if lf != nil {
		delete(f.files, key)
		if err := lf.close(); err != nil {
			return nil, err
		}
	}
	size := _NO_SPLIT_MB
	if cfg.Split {
		size = f.splitMB
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    size,
		MaxBackups: f.backups,
		LocalTime:  true,
	}
	lf = &levelFile{path: path, lj: lj, buf: bufio.NewWriterSize(lj, 32*1024)}
	f.files[key] = lf
	return lf, nil
}

func (f *RotatingFiles) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, lf := range f.files {
		errs = append(errs, lf.flush())
	}
	return errors.Join(errs...)
}

func (f *RotatingFiles) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for key, lf := range f.files {
		errs = append(errs, lf.close())
		delete(f.files, key)
	}
	return errors.Join(errs...)
}

func (lf *levelFile) flush() error {
	if !lf.dirty {
		return nil
	}
	lf.dirty = false
	if err := lf.buf.Flush(); err != nil {
		return fmt.Errorf("%s: %w", lf.path, err)
	}
	return nil
}

func (lf *levelFile) close() error {
	return errors.Join(lf.flush(), lf.lj.Close())
}
