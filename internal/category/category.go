// Package category implements the producer-side category→bitmask
// predicate gating each audit category against the configuration
// snapshot, as a table rather than a branching switch (spec §9 Design
// Notes). This runs before framing on the producer side; the collector
// core never filters by category.
package category

import (
	"github.com/Eric5553/pgaudit-collector/internal/config"
	"github.com/Eric5553/pgaudit-collector/internal/record"
)

// ddlBit maps a DDL record.Type to its config.DDLCategory bit.
var ddlBit = map[record.Type]config.DDLCategory{
	record.TypeDDLDatabase:         config.DDLDatabase,
	record.TypeDDLDirectory:        config.DDLDirectory,
	record.TypeDDLTablespace:       config.DDLTablespace,
	record.TypeDDLSchema:           config.DDLSchema,
	record.TypeDDLUser:             config.DDLUser,
	record.TypeDDLTable:            config.DDLTable,
	record.TypeDDLIndex:            config.DDLIndex,
	record.TypeDDLView:             config.DDLView,
	record.TypeDDLTrigger:          config.DDLTrigger,
	record.TypeDDLFunction:         config.DDLFunction,
	record.TypeDDLResourcePool:     config.DDLResourcePool,
	record.TypeDDLWorkload:         config.DDLWorkload,
	record.TypeDDLServerForHadoop:  config.DDLServerForHadoop,
	record.TypeDDLDataSource:       config.DDLDataSource,
	record.TypeDDLNodeGroup:        config.DDLNodeGroup,
	record.TypeDDLRowLevelSecurity: config.DDLRowLevelSecurity,
	record.TypeDDLSynonym:          config.DDLSynonym,
	record.TypeDDLType:             config.DDLType,
	record.TypeDDLTextSearch:       config.DDLTextSearch,
}

// accessor is one row of the category→bit table: given a snapshot, report
// whether this category is currently enabled for emission.
type accessor func(cfg *config.Snapshot) bool

var table = map[record.Type]accessor{
	record.TypeLoginSuccess:  func(c *config.Snapshot) bool { return c.Session },
	record.TypeLoginFailed:   func(c *config.Snapshot) bool { return c.Session },
	record.TypeUserLogout:    func(c *config.Snapshot) bool { return c.Session },
	record.TypeSystemStart:   func(c *config.Snapshot) bool { return c.ServerAction },
	record.TypeSystemStop:    func(c *config.Snapshot) bool { return c.ServerAction },
	record.TypeSystemRecover: func(c *config.Snapshot) bool { return c.ServerAction },
	record.TypeSystemSwitch:  func(c *config.Snapshot) bool { return c.ServerAction },
	record.TypeLockUser:      func(c *config.Snapshot) bool { return c.LockUser },
	record.TypeUnlockUser:    func(c *config.Snapshot) bool { return c.LockUser },
	record.TypeGrantRole:     func(c *config.Snapshot) bool { return c.PrivilegeAdmin },
	record.TypeRevokeRole:    func(c *config.Snapshot) bool { return c.PrivilegeAdmin },
	record.TypeUserViolation: func(c *config.Snapshot) bool { return c.UserViolation },
	record.TypeDMLAction:       func(c *config.Snapshot) bool { return c.DML },
	record.TypeDMLActionSelect: func(c *config.Snapshot) bool { return c.DMLSelect },
	record.TypeFunctionExec:    func(c *config.Snapshot) bool { return c.Exec },
	record.TypeCopyTo:          func(c *config.Snapshot) bool { return c.Copy },
	record.TypeCopyFrom:        func(c *config.Snapshot) bool { return c.Copy },
	record.TypeSetParameter:    func(c *config.Snapshot) bool { return c.Set },
	// internal_event records (e.g. the wall-clock-rewind notice) are always
	// emitted; they carry collector-internal diagnostics, not a user action.
	record.TypeInternalEvent: func(*config.Snapshot) bool { return true },
}

// Allowed reports whether a record of type t should be emitted given cfg.
// DDL categories are gated by the DDL bitmask rather than the flat table.
func Allowed(cfg *config.Snapshot, t record.Type) bool {
	if !cfg.AuditEnabled {
		return false
	}
	if bit, ok := ddlBit[t]; ok {
		return cfg.DDL&bit != 0
	}
	if fn, ok := table[t]; ok {
		return fn(cfg)
	}
	return false
}
