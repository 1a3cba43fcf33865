// Package record implements the on-disk audit record codec (component C3):
// a fixed header followed by a 13-entry string table. Encoding is
// append-only and field order is fixed; see the Field* constants.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Type enumerates the audit category of a record. The concrete values and
// ordering are pinned to the openGauss AuditType enum this format was
// ported from, so a decoded Type can be rendered with Type.Desc without a
// lookup table drifting out of sync with the wire format.
type Type uint32

const (
	TypeUnknown Type = iota
	TypeLoginSuccess
	TypeLoginFailed
	TypeUserLogout
	TypeSystemStart
	TypeSystemStop
	TypeSystemRecover
	TypeSystemSwitch
	TypeLockUser
	TypeUnlockUser
	TypeGrantRole
	TypeRevokeRole
	TypeUserViolation
	TypeDDLDatabase
	TypeDDLDirectory
	TypeDDLTablespace
	TypeDDLSchema
	TypeDDLUser
	TypeDDLTable
	TypeDDLIndex
	TypeDDLView
	TypeDDLTrigger
	TypeDDLFunction
	TypeDDLResourcePool
	TypeDDLWorkload
	TypeDDLServerForHadoop
	TypeDDLDataSource
	TypeDDLNodeGroup
	TypeDDLRowLevelSecurity
	TypeDDLSynonym
	TypeDDLType
	TypeDDLTextSearch
	TypeDMLAction
	TypeDMLActionSelect
	TypeInternalEvent
	TypeFunctionExec
	TypeCopyTo
	TypeCopyFrom
	TypeSetParameter

	typeCount
)

var typeDescs = [...]string{
	"unknown", "login_success", "login_failed", "user_logout",
	"system_start", "system_stop", "system_recover", "system_switch",
	"lock_user", "unlock_user", "grant_role", "revoke_role", "user_violation",
	"ddl_database", "ddl_directory", "ddl_tablespace", "ddl_schema",
	"ddl_user", "ddl_table", "ddl_index", "ddl_view", "ddl_trigger",
	"ddl_function", "ddl_resourcepool", "ddl_workload", "ddl_serverforhadoop",
	"ddl_datasource", "ddl_nodegroup", "ddl_rowlevelsecurity", "ddl_synonym",
	"ddl_type", "ddl_textsearch", "dml_action", "dml_action_select",
	"internal_event", "function_exec", "copy_to", "copy_from", "set_parameter",
}

// Desc renders the human-readable category name used in query output.
func (t Type) Desc() string {
	if int(t) < len(typeDescs) {
		return typeDescs[t]
	}
	return typeDescs[TypeUnknown]
}

// Result enumerates the outcome of the audited action.
type Result uint32

const (
	ResultUnknown Result = iota
	ResultOK
	ResultFailed
)

var resultDescs = [...]string{"unknown", "ok", "failed"}

func (r Result) Desc() string {
	if int(r) < len(resultDescs) {
		return resultDescs[r]
	}
	return resultDescs[ResultUnknown]
}

// Flags marks the live/tombstoned state of a persisted record.
type Flags uint16

const (
	FlagLive       Flags = 1
	FlagTombstoned Flags = 2
)

const (
	signatureA = 'A'
	signatureU = 'U'
	version    = uint16(0)
	// NumFields is the number of string-table entries every record carries,
	// 10 concrete fields plus 3 reserved trailing ones. Changing this is a
	// format version bump, not a config option (see spec Open Questions).
	NumFields = 13

	// HeaderSize is the size, in bytes, of the fixed portion of a record:
	// signature(2) + version(2) + fields(2) + flags(2) + time(8) + size(4)
	// + type(4) + result(4).
	HeaderSize = 2 + 2 + 2 + 2 + 8 + 4 + 4 + 4
)

// The Field* constants give the wire order of the 10 concrete string fields;
// indices 10..12 are reserved and always empty on encode.
const (
	FieldUserID = iota
	FieldUserName
	FieldDatabaseName
	FieldClientConnInfo
	FieldObjectName
	FieldDetail
	FieldNodeName
	FieldThreadID
	FieldLocalPort
	FieldRemotePort
)

// Record is one decoded audit record.
type Record struct {
	Flags  Flags
	Time   int64 // seconds since the epoch, stamped by the collector
	Type   Type
	Result Result
	Fields [NumFields]string
}

var (
	// ErrBadSignature indicates the two-byte magic at the start of a header
	// did not read "AU".
	ErrBadSignature = errors.New("record: bad signature")
	// ErrBadVersion indicates an unsupported wire-format version.
	ErrBadVersion = errors.New("record: unsupported version")
	// ErrBadFieldCount indicates a header whose field count isn't NumFields.
	ErrBadFieldCount = errors.New("record: unexpected field count")
	// ErrTruncated indicates the declared size overruns the available buffer.
	ErrTruncated = errors.New("record: truncated record")
)

// Encode serializes r into buf, overwriting r.Time is the caller's
// responsibility (the collector stamps wall-clock time before calling
// Encode, never the producer's own timestamp; see field Time).
func Encode(r *Record) []byte {
	size := HeaderSize
	for _, f := range r.Fields {
		size += 4 + fieldWireLen(f)
	}

	buf := make([]byte, size)
	buf[0] = signatureA
	buf[1] = signatureU
	binary.LittleEndian.PutUint16(buf[2:], version)
	binary.LittleEndian.PutUint16(buf[4:], NumFields)
	binary.LittleEndian.PutUint16(buf[6:], uint16(r.Flags))
	binary.LittleEndian.PutUint64(buf[8:], uint64(r.Time))
	binary.LittleEndian.PutUint32(buf[16:], uint32(size))
	binary.LittleEndian.PutUint32(buf[20:], uint32(r.Type))
	binary.LittleEndian.PutUint32(buf[24:], uint32(r.Result))

	off := HeaderSize
	for _, f := range r.Fields {
		wl := fieldWireLen(f)
		binary.LittleEndian.PutUint32(buf[off:], uint32(wl))
		off += 4
		if wl > 0 {
			copy(buf[off:], f)
			buf[off+len(f)] = 0
			off += wl
		}
	}
	return buf
}

// fieldWireLen returns the on-disk length of a field including its
// terminating zero byte, or 0 for an absent (empty) field.
func fieldWireLen(s string) int {
	if s == "" {
		return 0
	}
	return len(s) + 1
}

// Decode parses one record from the front of buf. It returns the record,
// the number of bytes consumed (equal to the record's declared size), and
// an error if the header is malformed or a field length overruns buf.
func Decode(buf []byte) (*Record, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrTruncated
	}
	if buf[0] != signatureA || buf[1] != signatureU {
		return nil, 0, ErrBadSignature
	}
	if v := binary.LittleEndian.Uint16(buf[2:]); v != version {
		return nil, 0, errors.Wrapf(ErrBadVersion, "got %d", v)
	}
	if nf := binary.LittleEndian.Uint16(buf[4:]); nf != NumFields {
		return nil, 0, errors.Wrapf(ErrBadFieldCount, "got %d", nf)
	}

	r := &Record{}
	r.Flags = Flags(binary.LittleEndian.Uint16(buf[6:]))
	r.Time = int64(binary.LittleEndian.Uint64(buf[8:]))
	size := binary.LittleEndian.Uint32(buf[16:])
	r.Type = Type(binary.LittleEndian.Uint32(buf[20:]))
	r.Result = Result(binary.LittleEndian.Uint32(buf[24:]))

	if int(size) < HeaderSize || int(size) > len(buf) {
		return nil, 0, errors.Wrapf(ErrTruncated, "declared size %d, have %d", size, len(buf))
	}

	off := HeaderSize
	for i := 0; i < NumFields; i++ {
		if off+4 > int(size) {
			return nil, 0, errors.Wrap(ErrTruncated, "field length prefix")
		}
		wl := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if wl < 0 || off+wl > int(size) {
			return nil, 0, errors.Wrapf(ErrTruncated, "field %d length %d overruns record", i, wl)
		}
		if wl > 0 {
			// wl includes the terminating zero byte.
			r.Fields[i] = string(buf[off : off+wl-1])
		}
		off += wl
	}
	return r, int(size), nil
}

// EncodedSize reports the number of bytes Encode would produce for r,
// without allocating the buffer. Used by callers that need to know the
// size ahead of framing (e.g. to decide whether chunking is needed).
func EncodedSize(r *Record) int {
	size := HeaderSize
	for _, f := range r.Fields {
		size += 4 + fieldWireLen(f)
	}
	return size
}

func (r *Record) String() string {
	return fmt.Sprintf("record{time=%d type=%s result=%s}", r.Time, r.Type.Desc(), r.Result.Desc())
}
