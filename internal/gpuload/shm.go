package gpuload

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf16"
)

// GPU-Z shared memory block layout. The header sits at fixed offsets,
// followed by 128 key/value info records and 128 sensor records. Text
// fields are UTF-16LE, NUL-terminated. The sensor table is padded to an
// 8-byte boundary because of the float64 value member.
const (
	shmHeaderSize      = 12
	shmRecordCount     = 128
	shmRecordSize      = 1024 // WCHAR key[256] + WCHAR value[256]
	shmRecordTableOff  = shmHeaderSize
	shmSensorTableOff  = 131088 // record table end (131084) padded to 8
	shmSensorCount     = 128
	shmSensorSize      = 544 // WCHAR name[256] + WCHAR unit[8] + uint32 digits + pad + float64 value
	shmSensorNameLen   = 256
	shmSensorUnitLen   = 8
	shmSensorDigitsOff = 528
	shmSensorValueOff  = 536
	shmMinSize         = shmSensorTableOff + shmSensorCount*shmSensorSize
)

const (
	shmBusyRetries   = 10
	shmBusyRetryWait = 5 * time.Millisecond
	shmHoldWindow    = 15 * time.Second
	shmBlipWindow    = 3 * time.Second
	shmNoiseFloor    = 0.1
)

// The mapping name changed across producer versions; first open wins.
var shmNames = []string{"GPUZShMem", `Global\GPUZShMem`}

type shmHeader struct {
	Version    uint32
	Busy       int32
	LastUpdate uint32
}

// SensorRecord is one decoded slot of the shared memory sensor table.
type SensorRecord struct {
	Name   string
	Unit   string
	Digits uint32
	Value  float64
}

type shmMapping interface {
	// Bytes returns a point-in-time copy of the mapped region.
	Bytes() ([]byte, error)
	Close() error
}

func decodeShmHeader(buf []byte) (shmHeader, bool) {
	if len(buf) < shmHeaderSize {
		return shmHeader{}, false
	}
	return shmHeader{
		Version:    binary.LittleEndian.Uint32(buf[0:4]),
		Busy:       int32(binary.LittleEndian.Uint32(buf[4:8])),
		LastUpdate: binary.LittleEndian.Uint32(buf[8:12]),
	}, true
}

// decodeSensorTable extracts the sensor records from a raw shared memory
// buffer. Slots with blank names or non-finite values are skipped. The
// key/value info table between the header and the sensor table carries
// nothing load-related and is not decoded.
func decodeSensorTable(buf []byte) []SensorRecord {
	if len(buf) < shmMinSize {
		return nil
	}
	records := make([]SensorRecord, 0, 16)
	for i := 0; i < shmSensorCount; i++ {
		off := shmSensorTableOff + i*shmSensorSize
		name := decodeUTF16(buf[off : off+2*shmSensorNameLen])
		if name == "" {
			continue
		}
		unit := decodeUTF16(buf[off+2*shmSensorNameLen : off+2*shmSensorNameLen+2*shmSensorUnitLen])
		digits := binary.LittleEndian.Uint32(buf[off+shmSensorDigitsOff:])
		value := math.Float64frombits(binary.LittleEndian.Uint64(buf[off+shmSensorValueOff:]))
		if !isFiniteFloat(value) {
			continue
		}
		records = append(records, SensorRecord{Name: name, Unit: unit, Digits: digits, Value: value})
	}
	return records
}

func decodeUTF16(b []byte) string {
	units := make([]uint16, 0, 32)
	for i := 0; i+1 < len(b); i += 2 {
		c := binary.LittleEndian.Uint16(b[i:])
		if c == 0 {
			break
		}
		units = append(units, c)
	}
	if len(units) == 0 {
		return ""
	}
	return strings.TrimSpace(string(utf16.Decode(units)))
}

var shmLoadNames = []string{
	"gpu load",
	"gpu core load",
	"gpu utilization",
	"gpu usage",
	"render",
	"graphics",
}

// bestLoadCandidate picks the highest percent-unit load sensor from the
// decoded records. First occurrence wins on ties.
func bestLoadCandidate(records []SensorRecord) (float64, bool) {
	var best float64
	found := false
	for _, r := range records {
		if r.Unit != "%" {
			continue
		}
		name := strings.ToLower(r.Name)
		matched := false
		for _, want := range shmLoadNames {
			if strings.Contains(name, want) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if !found || r.Value > best {
			best = r.Value
			found = true
		}
	}
	return best, found
}

// SharedMemoryReader reads GPU load out of the producer's shared memory
// block, holding the last good value across producer hiccups: a stale
// update tick within 15s returns the held value, and a near-zero reading
// right after a real one is treated as a table-reconfiguration blip for
// up to 3s.
type SharedMemoryReader struct {
	mu      sync.Mutex
	mapping shmMapping

	lastTick    uint32
	haveTick    bool
	lastValue   float64
	haveValue   bool
	lastValueAt time.Time

	open  func() (shmMapping, error)
	now   func() time.Time
	sleep func(time.Duration)
}

func NewSharedMemoryReader() *SharedMemoryReader {
	return &SharedMemoryReader{
		open:  openSharedMemory,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// Read returns the current GPU load in [0,100], or false when no sample
// and no recent held value is available.
func (r *SharedMemoryReader) Read() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.snapshot()
	if !ok {
		return r.heldValue()
	}

	hdr, ok := decodeShmHeader(buf)
	if !ok {
		return r.heldValue()
	}
	for attempt := 0; hdr.Busy != 0 && attempt < shmBusyRetries; attempt++ {
		r.sleep(shmBusyRetryWait)
		buf, ok = r.snapshot()
		if !ok {
			return r.heldValue()
		}
		hdr, ok = decodeShmHeader(buf)
		if !ok {
			return r.heldValue()
		}
	}
	if hdr.Busy != 0 {
		// Producer stayed mid-write for the whole retry budget.
		return r.heldValue()
	}

	value, found := bestLoadCandidate(decodeSensorTable(buf))
	if !found {
		return r.heldValue()
	}
	value = clampPercent(value)
	now := r.now()

	if r.haveTick && hdr.LastUpdate == r.lastTick {
		// Producer has not refreshed the table. Keep the held value
		// while it is fresh enough; past the window the possibly stale
		// reading is better than nothing.
		if r.haveValue && now.Sub(r.lastValueAt) <= shmHoldWindow {
			return r.lastValue, true
		}
	}
	if value <= shmNoiseFloor && r.haveValue && r.lastValue > shmNoiseFloor &&
		now.Sub(r.lastValueAt) <= shmBlipWindow {
		// Sensor table reconfiguration momentarily zeroes readings.
		return r.lastValue, true
	}

	r.lastTick = hdr.LastUpdate
	r.haveTick = true
	r.lastValue = value
	r.haveValue = true
	r.lastValueAt = now
	return value, true
}

func (r *SharedMemoryReader) heldValue() (float64, bool) {
	if r.haveValue && r.now().Sub(r.lastValueAt) <= shmHoldWindow {
		return r.lastValue, true
	}
	return 0, false
}

func (r *SharedMemoryReader) snapshot() ([]byte, bool) {
	if r.mapping == nil {
		m, err := r.open()
		if err != nil {
			return nil, false
		}
		r.mapping = m
	}
	buf, err := r.mapping.Bytes()
	if err != nil {
		// Mapping went away; drop it and reopen on the next attempt.
		r.mapping.Close()
		r.mapping = nil
		return nil, false
	}
	return buf, true
}
