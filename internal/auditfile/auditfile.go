// Package auditfile is the file manager (component C5): it opens,
// appends to, and closes the audit data files, enforcing permissions and
// the out-of-space retry policy.
package auditfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/Eric5553/pgaudit-collector/internal/log"
	"github.com/Eric5553/pgaudit-collector/internal/record"
)

// FileMode is the permission every audit file is created and re-chmod'd
// with, defeating umask (spec §4.5).
const FileMode = 0o600

// Name returns the filename for a given file number: "<filenum>_adt".
func Name(fileNum uint32) string {
	return fmt.Sprintf("%d_adt", fileNum)
}

// Path returns the full path of a file number under dir.
func Path(dir string, fileNum uint32) string {
	return filepath.Join(dir, Name(fileNum))
}

// Manager owns the single open, currently-growing audit file.
type Manager struct {
	dir        string
	fp         *os.File
	fileNum    uint32
	size       uint32
	enospcWait time.Duration
}

// New constructs a Manager rooted at dir. enospcWait, if zero, defaults to
// the spec's one-second backoff (spec §4.5/§7); tests may shorten it.
func New(dir string, enospcWait time.Duration) *Manager {
	if enospcWait == 0 {
		enospcWait = time.Second
	}
	return &Manager{dir: dir, enospcWait: enospcWait}
}

// IsFileTableFull reports whether err is ENFILE/EMFILE, the two errnos
// that keep the current file in use rather than disabling rotation
// (spec §4.6/§7).
func IsFileTableFull(err error) bool {
	return errors.Is(err, syscall.ENFILE) || errors.Is(err, syscall.EMFILE)
}

// Open creates (or reopens) fileNum as the current file, append-only,
// mode 0600, and forces the mode explicitly post-open to defeat umask.
func (m *Manager) Open(fileNum uint32) error {
	path := Path(m.dir, fileNum)
	fp, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, FileMode)
	if err != nil {
		return pkgerrors.Wrapf(err, "auditfile: open %s", path)
	}
	if err := fp.Chmod(FileMode); err != nil {
		_ = fp.Close()
		return pkgerrors.Wrapf(err, "auditfile: chmod %s", path)
	}
	info, err := fp.Stat()
	if err != nil {
		_ = fp.Close()
		return pkgerrors.Wrapf(err, "auditfile: stat %s", path)
	}

	if m.fp != nil {
		_ = m.fp.Close()
	}
	m.fp = fp
	m.fileNum = fileNum
	m.size = uint32(info.Size())
	return nil
}

// FileNum and Size report the current file's identity and byte length.
func (m *Manager) FileNum() uint32 { return m.fileNum }
func (m *Manager) Size() uint32    { return m.size }

// Close closes the current file handle without deleting it.
func (m *Manager) Close() error {
	if m.fp == nil {
		return nil
	}
	err := m.fp.Close()
	m.fp = nil
	return err
}

// Append stamps rec.Time with now and rec's size, then writes it to the
// current file. now is the collector's wall clock, never the producer's
// own timestamp (spec §4.3). On ENOSPC the write is retried indefinitely
// after a one-second sleep so audit data is never silently dropped
// (spec §4.5/§7); any other write error is returned to the caller.
func (m *Manager) Append(rec *record.Record, now time.Time) (int, error) {
	if m.fp == nil {
		return 0, pkgerrors.New("auditfile: append with no open file")
	}
	rec.Time = now.Unix()
	buf := record.Encode(rec)

	var written int
	for written < len(buf) {
		n, err := m.fp.Write(buf[written:])
		// Account for a partial write before inspecting err: m.size must
		// track the file's real length even when the write that grew it
		// is about to be retried or returned as an error, or index.Item.
		// FileSize and retention's space bookkeeping (both seeded from
		// Size()) drift from the file's actual length on disk.
		m.size += uint32(n)
		written += n
		if err == nil {
			continue
		}
		if errors.Is(err, syscall.ENOSPC) {
			log.Warn("auditfile: ENOSPC writing %s, retrying in %s", m.fp.Name(), m.enospcWait)
			time.Sleep(m.enospcWait)
			continue
		}
		return written, pkgerrors.Wrapf(err, "auditfile: write %s", m.fp.Name())
	}
	return written, nil
}

// AppendPassthrough writes non-protocol bytes verbatim to the current
// file, bypassing the record codec entirely (spec §4.1).
func (m *Manager) AppendPassthrough(p []byte) (int, error) {
	if m.fp == nil {
		return 0, pkgerrors.New("auditfile: passthrough append with no open file")
	}
	n, err := m.fp.Write(p)
	m.size += uint32(n)
	if err != nil {
		return n, pkgerrors.Wrapf(err, "auditfile: passthrough write %s", m.fp.Name())
	}
	return n, nil
}
