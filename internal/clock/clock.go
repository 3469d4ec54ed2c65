// Package clock implements the Master Clock contract of spec §4.1: a
// view onto a PTP-synchronized shared-memory segment
// maintained by an external daemon (nqptp-style), plus the UDP control
// datagram used to hand it a timing-peer list.
//
// Layout is grounded on original_source/include/nptp/shm_struct.hpp:
//
//	pthread_mutex_t shm_mutex;
//	uint16_t        version;
//	uint64_t        master_clock_id;
//	char[64]        master_clock_ip;
//	uint64_t        local_time;
//	uint64_t        local_to_master_time_offset; // signed delta, stored as u64 on the wire
//	uint64_t        master_clock_start_time;
//
// Go cannot portably lock a foreign pthread_mutex_t without cgo. We
// approximate the "non-blocking, bounded spin" acquisition the spec
// calls for with a CAS against the mutex's first four bytes, which on
// glibc's default (PTHREAD_MUTEX_NORMAL, process-shared) mutex encode
// the lock word as 0=unlocked/1=locked in the low bits. This is
// documented as an Open Question resolution in DESIGN.md: it is a
// best-effort analog of the real protocol. The clock fields are only
// read; the lock word is the one location this package writes. The
// version field is checked once, after the copy; a read torn by a
// writer that ignores the lock word is not detected.
package clock

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mutexSize   = 40 // glibc pthread_mutex_t on 64-bit Linux
	offVersion  = mutexSize
	offMasterID = 48
	offMasterIP = 56
	ipFieldSize = 64
	offLocalTime      = offMasterIP + ipFieldSize // 120
	offOffset         = offLocalTime + 8          // 128
	offMastershipStart = offOffset + 8            // 136
	segmentSize       = offMastershipStart + 8    // 144

	wireVersion = uint16(1)

	// StaleAfter matches spec §3: sample older than this is unready.
	StaleAfter = 10 * time.Second

	ctrlPort = 9000
)

// Snapshot is the immutable value spec §3 describes as "Clock snapshot".
type Snapshot struct {
	MasterID              uint64
	MasterIP              string
	SampleTimeNs          uint64
	OffsetLocalToMasterNs int64
	MastershipStartNs     uint64

	// sampledAtNs is when info_no_wait() took this snapshot, used for
	// staleness checks relative to the caller's notion of "now".
	sampledAtNs int64
}

// NewSnapshot builds a Snapshot as of sampledAt, for callers that have
// their own source of clock data (tests, or an alternate transport).
func NewSnapshot(masterID uint64, masterIP string, sampleTimeNs uint64, offsetNs int64, mastershipStartNs uint64, sampledAt time.Time) Snapshot {
	return Snapshot{
		MasterID:              masterID,
		MasterIP:              masterIP,
		SampleTimeNs:          sampleTimeNs,
		OffsetLocalToMasterNs: offsetNs,
		MastershipStartNs:     mastershipStartNs,
		sampledAtNs:           sampledAt.UnixNano(),
	}
}

// Ready reports whether the snapshot is usable: a real master and not stale.
func (s Snapshot) Ready(nowNs int64) bool {
	if s.MasterID == 0 {
		return false
	}
	age := time.Duration(nowNs - s.sampledAtNs)
	return age <= StaleAfter
}

// MasterClock reads the shared-memory segment written by the external
// PTP daemon and can forward a timing-peer list to it.
type MasterClock struct {
	shmName string
	path    string

	region []byte

	conn *net.UDPConn
}

// New builds (but does not yet open or map) a MasterClock for the given shm
// segment name, e.g. "/pierre-default".
func New(shmName string) *MasterClock {
	return &MasterClock{shmName: shmName, path: "/dev/shm" + shmName}
}

// Open maps the shared-memory segment. Failure here is process-fatal
// per spec §5 ("shared-memory region unmappable at startup").
func (c *MasterClock) Open() error {
	f, err := os.OpenFile(c.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open shm segment %s: %w", c.path, err)
	}
	defer f.Close()

	region, err := unix.Mmap(int(f.Fd()), 0, segmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap shm segment %s: %w", c.path, err)
	}
	c.region = region

	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: ctrlPort})
	if err != nil {
		_ = unix.Munmap(region)
		return fmt.Errorf("dial ptp control port: %w", err)
	}
	c.conn = conn

	return nil
}

// Teardown unmaps the segment and closes the control socket.
func (c *MasterClock) Teardown() error {
	var err error
	if c.region != nil {
		err = unix.Munmap(c.region)
		c.region = nil
	}
	if c.conn != nil {
		if cerr := c.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		c.conn = nil
	}
	return err
}

// InfoNoWait reads the current snapshot without blocking, per spec
// §4.1. A bounded number of spin attempts are made to observe a
// consistent (non-torn) read before giving up and returning an unready
// snapshot.
func (c *MasterClock) InfoNoWait() Snapshot {
	if c.region == nil || len(c.region) < segmentSize {
		return Snapshot{}
	}

	const maxSpins = 8
	for i := 0; i < maxSpins; i++ {
		if !tryLock(c.region) {
			continue
		}

		snap := readSnapshot(c.region)
		unlock(c.region)

		if snap.version != wireVersion || snap.MasterID == 0 {
			return Snapshot{}
		}

		return NewSnapshot(snap.MasterID, snap.MasterIP, snap.SampleTimeNs, snap.OffsetLocalToMasterNs, snap.MastershipStartNs, time.Now())
	}

	return Snapshot{}
}

type rawSnapshot struct {
	Snapshot
	version uint16
}

func readSnapshot(region []byte) rawSnapshot {
	var s rawSnapshot
	s.version = binary.LittleEndian.Uint16(region[offVersion:])
	s.MasterID = binary.LittleEndian.Uint64(region[offMasterID:])

	ipBytes := region[offMasterIP : offMasterIP+ipFieldSize]
	n := 0
	for n < len(ipBytes) && ipBytes[n] != 0 {
		n++
	}
	s.MasterIP = string(ipBytes[:n])

	s.SampleTimeNs = binary.LittleEndian.Uint64(region[offLocalTime:])
	s.OffsetLocalToMasterNs = int64(binary.LittleEndian.Uint64(region[offOffset:]))
	s.MastershipStartNs = binary.LittleEndian.Uint64(region[offMastershipStart:])

	return s
}

// tryLock performs a single non-blocking attempt to acquire the
// mutex's lock word; see the package doc for why this is an analog
// rather than a true pthread_mutex_trylock.
func tryLock(region []byte) bool {
	word := lockWord(region)
	return word.CompareAndSwap(0, 1)
}

func unlock(region []byte) {
	lockWord(region).Store(0)
}

func lockWord(region []byte) *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&region[0]))
}

// SetPeers transmits the UDP control datagram described in spec §4.1/§6:
// "<shm_name> T <ip>[ <ip>]*" NUL-terminated.
func (c *MasterClock) SetPeers(peers []net.IP) error {
	if c.conn == nil {
		return fmt.Errorf("clock control socket not open")
	}

	msg := c.shmName + " T"
	for _, ip := range peers {
		msg += " " + ip.String()
	}
	msg += "\x00"

	_, err := c.conn.Write([]byte(msg))
	return err
}
