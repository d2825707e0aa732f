package store

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// --------------------------------------------------------------------------
// Descriptor
// --------------------------------------------------------------------------

// Reserved descriptor keys. Caller metadata never overrides them.
const (
	KeyLockedBy = "locked_by"
	KeyLockedAt = "locked_at"
	KeyPID      = "pid"
	KeyTimeout  = "timeout"
)

const (
	// timestampLayout is how locked_at is written: naive local time with microseconds,
	// the form the agent scripts sharing the lock directory write and compare against.
	timestampLayout = "2006-01-02T15:04:05.000000"
	// legacyTimeLayout parses offset-less timestamps. Fractional seconds are accepted
	// on parse even though the layout does not name them.
	legacyTimeLayout = "2006-01-02T15:04:05"

	// maxTimeoutSeconds is the longest lease a time.Duration can hold.
	maxTimeoutSeconds = uint64(math.MaxInt64 / int64(time.Second))
)

// Descriptor describes who holds a lock and for how long.
type Descriptor struct {
	LockedBy string         // identity of the holder
	LockedAt time.Time      // acquisition or last renewal time
	PID      int            // process id of the holder (diagnostic only)
	Timeout  uint64         // lease in seconds, 0 means the store default
	Metadata map[string]any // caller supplied, merged at the top level on disk
}

// Lease returns the lease duration, falling back to def if the descriptor has none.
// Timeouts beyond the range of time.Duration are capped.
func (d Descriptor) Lease(def time.Duration) time.Duration {
	if d.Timeout == 0 {
		return def
	}
	return time.Duration(min(d.Timeout, maxTimeoutSeconds)) * time.Second
}

// ExpiresAt returns the last instant at which the descriptor is still valid.
func (d Descriptor) ExpiresAt(def time.Duration) time.Time {
	return d.LockedAt.Add(d.Lease(def))
}

// IsStale reports whether the lease has run out at now.
func (d Descriptor) IsStale(now time.Time, def time.Duration) bool {
	return now.After(d.ExpiresAt(def))
}

// Clone returns a copy that does not share the metadata map.
func (d Descriptor) Clone() Descriptor {
	if d.Metadata != nil {
		meta := make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = v
		}
		d.Metadata = meta
	}
	return d
}

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// EncodeDescriptor renders the on-disk JSON document of a descriptor.
// LockedAt is written in local time without offset and truncated to microseconds.
func EncodeDescriptor(d Descriptor) ([]byte, error) {
	doc := make(map[string]any, len(d.Metadata)+4)
	for k, v := range d.Metadata {
		doc[k] = v
	}
	doc[KeyLockedBy] = d.LockedBy
	doc[KeyLockedAt] = d.LockedAt.Local().Format(timestampLayout)
	doc[KeyPID] = d.PID
	if d.Timeout != 0 {
		doc[KeyTimeout] = d.Timeout
	}
	return json.MarshalIndent(doc, "", "  ")
}

// DecodeDescriptor parses an on-disk JSON document. Any error means the document is
// corrupted and must be treated like a stale descriptor.
func DecodeDescriptor(b []byte) (Descriptor, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Descriptor{}, fmt.Errorf("invalid descriptor document: %w", err)
	}

	var d Descriptor

	if err := decodeField(raw, KeyLockedBy, &d.LockedBy, true); err != nil {
		return Descriptor{}, err
	}
	if d.LockedBy == "" {
		return Descriptor{}, fmt.Errorf("descriptor field %s is empty", KeyLockedBy)
	}

	var lockedAt string
	if err := decodeField(raw, KeyLockedAt, &lockedAt, true); err != nil {
		return Descriptor{}, err
	}
	at, err := ParseTimestamp(lockedAt)
	if err != nil {
		return Descriptor{}, err
	}
	d.LockedAt = at

	if err := decodeField(raw, KeyPID, &d.PID, false); err != nil {
		return Descriptor{}, err
	}
	if err := decodeField(raw, KeyTimeout, &d.Timeout, false); err != nil {
		return Descriptor{}, err
	}

	for k, v := range raw {
		switch k {
		case KeyLockedBy, KeyLockedAt, KeyPID, KeyTimeout:
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return Descriptor{}, fmt.Errorf("descriptor metadata %s: %w", k, err)
		}
		if d.Metadata == nil {
			d.Metadata = make(map[string]any)
		}
		d.Metadata[k] = val
	}

	return d, nil
}

// ParseTimestamp accepts RFC 3339 timestamps and the offset-less ISO-8601 form,
// which is interpreted in local time.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(legacyTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("descriptor field %s: invalid timestamp %q", KeyLockedAt, s)
	}
	return t, nil
}

func decodeField(raw map[string]json.RawMessage, key string, dst any, required bool) error {
	v, ok := raw[key]
	if !ok {
		if required {
			return fmt.Errorf("descriptor field %s is missing", key)
		}
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("descriptor field %s: %w", key, err)
	}
	return nil
}
