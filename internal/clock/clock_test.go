package clock

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeSegment(masterID uint64, ip string, sampleNs uint64, offsetNs int64, startNs uint64) []byte {
	region := make([]byte, segmentSize)
	binary.LittleEndian.PutUint16(region[offVersion:], wireVersion)
	binary.LittleEndian.PutUint64(region[offMasterID:], masterID)
	copy(region[offMasterIP:offMasterIP+ipFieldSize], ip)
	binary.LittleEndian.PutUint64(region[offLocalTime:], sampleNs)
	binary.LittleEndian.PutUint64(region[offOffset:], uint64(offsetNs))
	binary.LittleEndian.PutUint64(region[offMastershipStart:], startNs)
	return region
}

func TestInfoNoWaitReadsFields(t *testing.T) {
	c := &MasterClock{region: fakeSegment(7, "10.0.0.5", 1_000_000, -250, 500)}

	snap := c.InfoNoWait()
	require.Equal(t, uint64(7), snap.MasterID)
	require.Equal(t, "10.0.0.5", snap.MasterIP)
	require.Equal(t, uint64(1_000_000), snap.SampleTimeNs)
	require.Equal(t, int64(-250), snap.OffsetLocalToMasterNs)
	require.Equal(t, uint64(500), snap.MastershipStartNs)
}

func TestInfoNoWaitRejectsZeroMaster(t *testing.T) {
	c := &MasterClock{region: fakeSegment(0, "", 0, 0, 0)}

	snap := c.InfoNoWait()
	require.False(t, snap.Ready(time.Now().UnixNano()))
}

func TestInfoNoWaitRejectsVersionMismatch(t *testing.T) {
	region := fakeSegment(1, "1.2.3.4", 1, 0, 0)
	binary.LittleEndian.PutUint16(region[offVersion:], wireVersion+1)
	c := &MasterClock{region: region}

	snap := c.InfoNoWait()
	require.Equal(t, uint64(0), snap.MasterID)
}

func TestSnapshotReadyStaleness(t *testing.T) {
	now := time.Now().UnixNano()
	fresh := Snapshot{MasterID: 1, sampledAtNs: now}
	require.True(t, fresh.Ready(now+int64(time.Second)))

	stale := Snapshot{MasterID: 1, sampledAtNs: now - int64(StaleAfter) - int64(time.Second)}
	require.False(t, stale.Ready(now))
}

func TestTryLockRoundTrip(t *testing.T) {
	region := fakeSegment(1, "1.1.1.1", 1, 0, 0)

	require.True(t, tryLock(region))
	require.False(t, tryLock(region), "second non-blocking lock attempt must fail while held")
	unlock(region)
	require.True(t, tryLock(region))
}
