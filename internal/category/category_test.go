package category_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Eric5553/pgaudit-collector/internal/category"
	"github.com/Eric5553/pgaudit-collector/internal/config"
	"github.com/Eric5553/pgaudit-collector/internal/record"
)

func TestAllowedRespectsAuditEnabled(t *testing.T) {
	cfg := &config.Snapshot{AuditEnabled: false, Session: true}
	assert.False(t, category.Allowed(cfg, record.TypeLoginSuccess))
}

func TestAllowedFlatCategory(t *testing.T) {
	cfg := &config.Snapshot{AuditEnabled: true, Session: true}
	assert.True(t, category.Allowed(cfg, record.TypeLoginSuccess))
	assert.True(t, category.Allowed(cfg, record.TypeUserLogout))
	assert.False(t, category.Allowed(cfg, record.TypeDMLAction))
}

func TestAllowedDDLBitmask(t *testing.T) {
	cfg := &config.Snapshot{AuditEnabled: true, DDL: config.DDLTable | config.DDLIndex}
	assert.True(t, category.Allowed(cfg, record.TypeDDLTable))
	assert.True(t, category.Allowed(cfg, record.TypeDDLIndex))
	assert.False(t, category.Allowed(cfg, record.TypeDDLSchema))
}

func TestAllowedInternalEventAlwaysOn(t *testing.T) {
	cfg := &config.Snapshot{AuditEnabled: true}
	assert.True(t, category.Allowed(cfg, record.TypeInternalEvent))
}

func TestAllowedUnknownTypeIsDenied(t *testing.T) {
	cfg := &config.Snapshot{AuditEnabled: true, Session: true, DML: true, DMLSelect: true,
		Exec: true, Copy: true, Set: true, DDL: config.DDLCategory(1<<20 - 1)}
	assert.False(t, category.Allowed(cfg, record.Type(9999)))
}

func TestAllowedEachDMLVariant(t *testing.T) {
	cfg := &config.Snapshot{AuditEnabled: true, DML: true}
	assert.True(t, category.Allowed(cfg, record.TypeDMLAction))
	assert.False(t, category.Allowed(cfg, record.TypeDMLActionSelect))

	cfg2 := &config.Snapshot{AuditEnabled: true, DMLSelect: true}
	assert.True(t, category.Allowed(cfg2, record.TypeDMLActionSelect))
}

func TestAllowedCopyCoversBothDirections(t *testing.T) {
	cfg := &config.Snapshot{AuditEnabled: true, Copy: true}
	assert.True(t, category.Allowed(cfg, record.TypeCopyTo))
	assert.True(t, category.Allowed(cfg, record.TypeCopyFrom))
}
