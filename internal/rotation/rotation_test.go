package rotation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eric5553/pgaudit-collector/internal/auditfile"
	"github.com/Eric5553/pgaudit-collector/internal/config"
	"github.com/Eric5553/pgaudit-collector/internal/index"
	"github.com/Eric5553/pgaudit-collector/internal/rotation"
)

func TestComputeNextRotationTimeStrictlyAfterNow(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 17, 0, 0, time.UTC)
	next := rotation.ComputeNextRotationTime(now, 15*time.Minute, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 3, 10, 30, 0, 0, time.UTC), next)
}

func TestComputeNextRotationTimeOnExactBoundary(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 30, 0, 0, time.UTC)
	next := rotation.ComputeNextRotationTime(now, 15*time.Minute, time.UTC)
	// "strictly greater than now" -- landing exactly on a boundary must
	// still advance to the following one, not return now itself.
	assert.Equal(t, time.Date(2026, 8, 3, 10, 45, 0, 0, time.UTC), next)
}

func TestComputeNextRotationTimeDisabled(t *testing.T) {
	next := rotation.ComputeNextRotationTime(time.Now(), 0, time.UTC)
	assert.True(t, next.IsZero())
}

func TestSizeTriggeredByRotationSizeOrSpaceLimit(t *testing.T) {
	var c rotation.Controller
	cfg := &config.Snapshot{RotationSize: 1000, SpaceLimit: 5000}
	assert.False(t, c.SizeTriggered(999, cfg))
	assert.True(t, c.SizeTriggered(1000, cfg))
	assert.True(t, c.SizeTriggered(5000, &config.Snapshot{RotationSize: 0, SpaceLimit: 5000}))
}

func TestRequestRotateCoalesces(t *testing.T) {
	var c rotation.Controller
	c.RequestRotate()
	c.RequestRotate()
	assert.True(t, c.Requested)
	c.ClearRequest()
	assert.False(t, c.Requested)
}

func TestRotateUsesPlannedTimeWhenTimeBased(t *testing.T) {
	dir := t.TempDir()
	mgr := auditfile.New(dir, 0)
	require.NoError(t, mgr.Open(0))
	defer mgr.Close()

	idx := index.New(4)
	idx.PushNew(index.Item{CTime: 1000, FileNum: 0})

	planned := time.Date(2026, 8, 3, 11, 0, 0, 0, time.UTC)
	var c rotation.Controller
	c.NextRotationTime = planned

	var totalSpace uint64
	// Rotation is serviced a little late: now is after the planned deadline.
	late := planned.Add(5 * time.Second)
	require.NoError(t, c.Rotate(mgr, idx, &totalSpace, late, true))

	cur := idx.Current()
	require.NotNil(t, cur)
	assert.Equal(t, planned.Unix(), cur.CTime, "new slot's creation time must be the planned deadline, not now")
	assert.Equal(t, uint32(1), cur.FileNum)
}

func TestRotateNotTimeBasedUsesNow(t *testing.T) {
	dir := t.TempDir()
	mgr := auditfile.New(dir, 0)
	require.NoError(t, mgr.Open(0))
	defer mgr.Close()

	idx := index.New(4)
	idx.PushNew(index.Item{CTime: 1000, FileNum: 0})

	var c rotation.Controller
	var totalSpace uint64
	now := time.Unix(5000, 0)
	require.NoError(t, c.Rotate(mgr, idx, &totalSpace, now, false))

	assert.Equal(t, now.Unix(), idx.Current().CTime)
}

func TestRotateFinalizesOldSlotAndAccumulatesSpace(t *testing.T) {
	dir := t.TempDir()
	mgr := auditfile.New(dir, 0)
	require.NoError(t, mgr.Open(0))
	_, err := mgr.AppendPassthrough([]byte("12345"))
	require.NoError(t, err)
	defer mgr.Close()

	idx := index.New(4)
	idx.PushNew(index.Item{CTime: 1, FileNum: 0})

	var c rotation.Controller
	var totalSpace uint64
	require.NoError(t, c.Rotate(mgr, idx, &totalSpace, time.Unix(10, 0), false))

	assert.Equal(t, uint64(5), totalSpace)
	var oldSlot *index.Item
	idx.Walk(func(_ uint32, item index.Item) bool {
		if item.FileNum == 0 {
			v := item
			oldSlot = &v
			return false
		}
		return true
	})
	require.NotNil(t, oldSlot)
	assert.Equal(t, uint32(5), oldSlot.FileSize)
}
