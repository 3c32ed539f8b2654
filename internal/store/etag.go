package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// computeETag derives a strong ETag from an Event's content, not its write
// time: concatenated big-endian raw bytes of uid, version, summary, the
// timing fields (timestamps as seconds, dates as days-since-epoch — never
// decimal strings, to keep the hot write path allocation-free), status, and
// rrule, then SHA-256'd. Two writes of byte-identical content always produce
// the same ETag; any field change always produces a different one.
// ComputeETag is the exported entry point used by store implementations.
func ComputeETag(ev *Event) string { return computeETag(ev) }

func computeETag(ev *Event) string {
	h := sha256.New()
	h.Write([]byte(ev.UID))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ev.Version))
	h.Write(buf[:])

	h.Write([]byte(ev.Summary))

	if ev.IsAllDay {
		binary.BigEndian.PutUint64(buf[:], uint64(daysSinceEpoch(ev.StartDate)))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(daysSinceEpoch(ev.EndDate)))
		h.Write(buf[:])
	} else {
		binary.BigEndian.PutUint64(buf[:], uint64(ev.Start.Unix()))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(ev.End.Unix()))
		h.Write(buf[:])
	}

	h.Write([]byte(ev.Status))
	h.Write([]byte(ev.RRule))

	return `"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`
}

func daysSinceEpoch(t time.Time) int64 {
	return t.Unix() / 86400
}
