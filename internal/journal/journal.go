// Package journal implements the crash-resumable progress journal (C6): a
// fixed-capacity memory-mapped file of identical 528-byte records mapping
// a source fingerprint to (target name, last success offset).
//
// The memory-mapping technique mirrors the teacher's own use of
// syscall.Mmap for io_uring's shared ring buffers
// (internal/platform/copy_iouring.go) — here applied to a growable record
// file instead of a kernel ring.
package journal

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// RecordSize is the fixed on-disk record width: 8B fingerprint +
	// 8B offset + 512B target name.
	RecordSize = 528

	fingerprintOff = 0
	offsetOff      = 8
	targetOff      = 16
	targetLen      = 512

	// growthIncrement is the nearest whole number of records at or above
	// 1 MiB, so the file length stays a multiple of RecordSize after every
	// truncate.
	growthIncrement = ((1<<20 + RecordSize - 1) / RecordSize) * RecordSize
)

// Entry is one resumable record.
type Entry struct {
	Fingerprint       uint64
	TargetName        string
	LastSuccessOffset int64
}

// Journal is a memory-mapped, fixed-record store. All public operations
// are serialized by a single lock — the spec does not require a
// fingerprint-last write protocol because the lock already linearizes
// every writer.
type Journal struct {
	mu sync.Mutex

	file   *os.File
	data   []byte // current mmap
	path   string
	bySlot map[uint64]int // fingerprint -> slot index
	free   []int          // free slot indices
}

// Open maps (creating if necessary) the journal file at path. If the file
// is empty, one growth increment is allocated immediately so there is at
// least one record's worth of slots.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	j := &Journal{
		file:   f,
		path:   path,
		bySlot: make(map[uint64]int),
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: stat: %w", err)
	}
	if info.Size() == 0 {
		if err := f.Truncate(growthIncrement); err != nil {
			f.Close()
			return nil, fmt.Errorf("journal: initial truncate: %w", err)
		}
	} else if info.Size()%RecordSize != 0 {
		f.Close()
		return nil, fmt.Errorf("journal: %s length %d not a multiple of %d", path, info.Size(), RecordSize)
	}

	if err := j.mapCurrent(); err != nil {
		f.Close()
		return nil, err
	}
	j.indexAll()

	return j, nil
}

func (j *Journal) mapCurrent() error {
	info, err := j.file.Stat()
	if err != nil {
		return fmt.Errorf("journal: stat: %w", err)
	}
	data, err := unix.Mmap(int(j.file.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("journal: mmap: %w", err)
	}
	j.data = data
	return nil
}

// indexAll scans every record, building bySlot for occupied slots and free
// for empty ones. Called once at Open; grow adds its new slots to free
// itself.
func (j *Journal) indexAll() {
	slots := len(j.data) / RecordSize
	j.bySlot = make(map[uint64]int, slots)
	j.free = j.free[:0]
	for i := 0; i < slots; i++ {
		fp := j.readFingerprint(i)
		if fp == 0 {
			j.free = append(j.free, i)
			continue
		}
		j.bySlot[fp] = i
	}
}

func (j *Journal) slotOffset(i int) int { return i * RecordSize }

func (j *Journal) readFingerprint(i int) uint64 {
	off := j.slotOffset(i)
	return binary.LittleEndian.Uint64(j.data[off+fingerprintOff : off+fingerprintOff+8])
}

func (j *Journal) readSlot(i int) Entry {
	off := j.slotOffset(i)
	fp := binary.LittleEndian.Uint64(j.data[off+fingerprintOff : off+fingerprintOff+8])
	lastOff := int64(binary.LittleEndian.Uint64(j.data[off+offsetOff : off+offsetOff+8]))
	nameBytes := j.data[off+targetOff : off+targetOff+targetLen]
	end := indexZero(nameBytes)
	return Entry{Fingerprint: fp, LastSuccessOffset: lastOff, TargetName: string(nameBytes[:end])}
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}

func (j *Journal) writeSlot(i int, e Entry) error {
	if len(e.TargetName) > targetLen {
		return fmt.Errorf("journal: target name %q exceeds %d bytes", e.TargetName, targetLen)
	}
	off := j.slotOffset(i)
	binary.LittleEndian.PutUint64(j.data[off+fingerprintOff:off+fingerprintOff+8], e.Fingerprint)
	binary.LittleEndian.PutUint64(j.data[off+offsetOff:off+offsetOff+8], uint64(e.LastSuccessOffset))
	target := j.data[off+targetOff : off+targetOff+targetLen]
	for i := range target {
		target[i] = 0
	}
	copy(target, e.TargetName)
	return nil
}

// Resume returns every currently in-flight entry, i.e. every occupied
// slot. Callers treat LastSuccessOffset as advisory (see open question in
// the design notes): whether to resume from it or restart is a policy
// decision outside the journal.
func (j *Journal) Resume() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := make([]Entry, 0, len(j.bySlot))
	for _, idx := range j.bySlot {
		entries = append(entries, j.readSlot(idx))
	}
	return entries, nil
}

// Update upserts the record for fingerprint with the given target name and
// offset, growing the file if no free slot is available.
func (j *Journal) Update(fingerprint uint64, targetName string, offset int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if fingerprint == 0 {
		return fmt.Errorf("journal: fingerprint 0 is reserved for empty slots")
	}

	if idx, ok := j.bySlot[fingerprint]; ok {
		return j.writeSlot(idx, Entry{Fingerprint: fingerprint, TargetName: targetName, LastSuccessOffset: offset})
	}

	if len(j.free) == 0 {
		if err := j.grow(); err != nil {
			return err
		}
	}

	idx := j.free[len(j.free)-1]
	j.free = j.free[:len(j.free)-1]
	if err := j.writeSlot(idx, Entry{Fingerprint: fingerprint, TargetName: targetName, LastSuccessOffset: offset}); err != nil {
		j.free = append(j.free, idx)
		return err
	}
	j.bySlot[fingerprint] = idx
	return nil
}

// Complete clears the record for fingerprint, if present.
func (j *Journal) Complete(fingerprint uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	idx, ok := j.bySlot[fingerprint]
	if !ok {
		return nil
	}
	if err := j.writeSlot(idx, Entry{}); err != nil {
		return err
	}
	delete(j.bySlot, fingerprint)
	j.free = append(j.free, idx)
	return nil
}

// grow extends the file by one growth increment, remaps it, and appends
// the new slot range to the free-list. Must be called with mu held.
func (j *Journal) grow() error {
	info, err := j.file.Stat()
	if err != nil {
		return fmt.Errorf("journal: stat before grow: %w", err)
	}
	oldSize := info.Size()
	newSize := oldSize + growthIncrement

	if err := unix.Munmap(j.data); err != nil {
		return fmt.Errorf("journal: munmap before grow: %w", err)
	}
	j.data = nil

	if err := j.file.Truncate(newSize); err != nil {
		return fmt.Errorf("journal: truncate to %d: %w", newSize, err)
	}
	if err := j.mapCurrent(); err != nil {
		return err
	}

	oldSlots := int(oldSize) / RecordSize
	newSlots := int(newSize) / RecordSize
	for i := oldSlots; i < newSlots; i++ {
		j.free = append(j.free, i)
	}
	return nil
}

// Flush durably writes pending records via msync.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.data == nil {
		return nil
	}
	if err := unix.Msync(j.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("journal: msync: %w", err)
	}
	return nil
}

// Dispose flushes and releases the mapping and the underlying file
// descriptor. Safe to call once; subsequent calls are no-ops.
func (j *Journal) Dispose() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.data == nil {
		return nil
	}
	_ = unix.Msync(j.data, unix.MS_SYNC)
	err := unix.Munmap(j.data)
	j.data = nil
	if closeErr := j.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Path returns the journal's backing file path.
func (j *Journal) Path() string {
	return j.path
}
