// Package config holds the configuration snapshot the collector observes.
// Parsing and reload plumbing live outside the collector core (spec §1
// Non-goals); this package only models the snapshot and its YAML form,
// mirroring the teacher's utils.MktsConfig/Parse pattern.
package config

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// CleanupPolicy selects how the retention controller prioritizes eviction.
type CleanupPolicy int

const (
	// TimePriority keeps files alive up to RemainAge even past SpaceLimit.
	TimePriority CleanupPolicy = 0
	// SpacePriority evicts strictly by SpaceLimit/RemainThreshold.
	SpacePriority CleanupPolicy = 1
)

// DDLCategory bits select which kind of DDL object triggers emission,
// folded into one bitmask field per spec §6.
type DDLCategory uint32

const (
	DDLDatabase DDLCategory = 1 << iota
	DDLDirectory
	DDLTablespace
	DDLSchema
	DDLUser
	DDLTable
	DDLIndex
	DDLView
	DDLTrigger
	DDLFunction
	DDLResourcePool
	DDLWorkload
	DDLServerForHadoop
	DDLDataSource
	DDLNodeGroup
	DDLRowLevelSecurity
	DDLSynonym
	DDLType
	DDLTextSearch

	ddlAll = DDLDatabase | DDLDirectory | DDLTablespace | DDLSchema | DDLUser |
		DDLTable | DDLIndex | DDLView | DDLTrigger | DDLFunction | DDLResourcePool |
		DDLWorkload | DDLServerForHadoop | DDLDataSource | DDLNodeGroup |
		DDLRowLevelSecurity | DDLSynonym | DDLType | DDLTextSearch
)

// Snapshot is the configuration the collector core observes. The core
// never parses files or watches for changes itself; callers (cmd/
// auditcollector, or a future reload signal source) hand it a freshly
// parsed Snapshot at startup and on reload.
type Snapshot struct {
	AuditEnabled bool
	Directory    string
	Timezone     *time.Location

	RotationAge  time.Duration // 0 disables time-based rotation
	RotationSize uint64        // bytes
	SpaceLimit   uint64        // bytes (soft total-bytes budget)

	RemainThreshold uint32 // max retained file count
	RemainAge       time.Duration
	CleanupPolicy   CleanupPolicy

	Session        bool
	ServerAction   bool
	LockUser       bool
	PrivilegeAdmin bool
	UserViolation  bool
	DDL            DDLCategory
	DML            bool
	DMLSelect      bool
	Exec           bool
	Copy           bool
	Set            bool

	// TailListenAddress, if non-empty, enables the supplemental websocket
	// live-tail of newly appended records (internal/tail). Not part of the
	// on-disk audit format or any spec invariant.
	TailListenAddress string
}

// yamlSnapshot is the wire shape, matching the teacher's aux-struct parse
// pattern (string/int fields validated and converted into typed ones).
type yamlSnapshot struct {
	AuditEnabled    bool     `yaml:"audit_enabled"`
	Directory       string   `yaml:"audit_directory"`
	Timezone        string   `yaml:"timezone"`
	RotationAgeMin  int      `yaml:"rotation_age_minutes"`
	RotationSizeKB  uint64   `yaml:"rotation_size_kb"`
	SpaceLimitKB    uint64   `yaml:"space_limit_kb"`
	RemainThreshold uint32   `yaml:"remain_threshold"`
	RemainAgeDays   int      `yaml:"remain_age_days"`
	CleanupPolicy   int      `yaml:"cleanup_policy"`
	Session         bool     `yaml:"category_session"`
	ServerAction    bool     `yaml:"category_server_action"`
	LockUser        bool     `yaml:"category_lock_user"`
	PrivilegeAdmin  bool     `yaml:"category_privilege_admin"`
	UserViolation   bool     `yaml:"category_user_violation"`
	DDLAll          bool     `yaml:"category_ddl"`
	DDLKinds        []string `yaml:"category_ddl_kinds"`
	DML             bool     `yaml:"category_dml"`
	DMLSelect       bool     `yaml:"category_dml_select"`
	Exec            bool     `yaml:"category_exec"`
	Copy            bool     `yaml:"category_copy"`
	Set             bool     `yaml:"category_set"`
	TailListenAddr  string   `yaml:"tail_listen_address"`
}

var ddlKindNames = map[string]DDLCategory{
	"database":          DDLDatabase,
	"directory":         DDLDirectory,
	"tablespace":        DDLTablespace,
	"schema":            DDLSchema,
	"user":              DDLUser,
	"table":             DDLTable,
	"index":             DDLIndex,
	"view":              DDLView,
	"trigger":           DDLTrigger,
	"function":          DDLFunction,
	"resourcepool":      DDLResourcePool,
	"workload":          DDLWorkload,
	"serverforhadoop":   DDLServerForHadoop,
	"datasource":        DDLDataSource,
	"nodegroup":         DDLNodeGroup,
	"rowlevelsecurity":  DDLRowLevelSecurity,
	"synonym":           DDLSynonym,
	"type":              DDLType,
	"textsearch":        DDLTextSearch,
}

// Parse parses a YAML configuration snapshot, applying the same defaults
// the teacher's MktsConfig.Parse applies for omitted fields.
func Parse(data []byte) (*Snapshot, error) {
	var aux yamlSnapshot
	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, errors.Wrap(err, "config: invalid yaml")
	}

	if aux.Directory == "" {
		return nil, errors.New("config: audit_directory is required")
	}

	tz := time.UTC
	if aux.Timezone != "" {
		loc, err := time.LoadLocation(aux.Timezone)
		if err != nil {
			return nil, errors.Wrapf(err, "config: invalid timezone %q", aux.Timezone)
		}
		tz = loc
	}

	if aux.RemainThreshold == 0 {
		return nil, errors.New("config: remain_threshold must be positive")
	}
	if aux.SpaceLimitKB == 0 {
		return nil, errors.New("config: space_limit_kb must be positive")
	}

	s := &Snapshot{
		AuditEnabled:    aux.AuditEnabled,
		Directory:       aux.Directory,
		Timezone:        tz,
		RotationAge:     time.Duration(aux.RotationAgeMin) * time.Minute,
		RotationSize:    aux.RotationSizeKB * 1024,
		SpaceLimit:      aux.SpaceLimitKB * 1024,
		RemainThreshold: aux.RemainThreshold,
		RemainAge:       time.Duration(aux.RemainAgeDays) * 24 * time.Hour,
		CleanupPolicy:   CleanupPolicy(aux.CleanupPolicy),
		Session:         aux.Session,
		ServerAction:    aux.ServerAction,
		LockUser:        aux.LockUser,
		PrivilegeAdmin:  aux.PrivilegeAdmin,
		UserViolation:   aux.UserViolation,
		DML:             aux.DML,
		DMLSelect:       aux.DMLSelect,
		Exec:            aux.Exec,
		Copy:            aux.Copy,
		Set:             aux.Set,
		TailListenAddress: aux.TailListenAddr,
	}

	if aux.DDLAll {
		s.DDL = ddlAll
	}
	for _, kind := range aux.DDLKinds {
		if bit, ok := ddlKindNames[kind]; ok {
			s.DDL |= bit
		}
	}

	return s, nil
}
