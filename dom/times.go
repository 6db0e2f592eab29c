package dom

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"time"
)

// seconds from 0001-01-01 to the Unix epoch
const secondsToUnixEpoch = 62135596800

const textDateLayout = "2006-01-02T15:04:05Z"

// Times holds the timestamps every group and entry carries. A zero time
// means the value is absent.
type Times struct {
	LastModificationTime time.Time
	CreationTime         time.Time
	LastAccessTime       time.Time
	ExpiryTime           time.Time
	Expires              bool
	UsageCount           int
	LocationChanged      time.Time

	Unknown []RawElement
}

// NewTimes returns Times with every timestamp set to now.
func NewTimes(now time.Time) Times {
	now = Timestamp(now)
	return Times{
		LastModificationTime: now,
		CreationTime:         now,
		LastAccessTime:       now,
		ExpiryTime:           now,
		LocationChanged:      now,
	}
}

// Timestamp truncates t to the precision stored in the file.
func Timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Second)
}

func (t Times) Equal(other Times) bool {
	return t.LastModificationTime.Equal(other.LastModificationTime) &&
		t.CreationTime.Equal(other.CreationTime) &&
		t.LastAccessTime.Equal(other.LastAccessTime) &&
		t.ExpiryTime.Equal(other.ExpiryTime) &&
		t.Expires == other.Expires &&
		t.UsageCount == other.UsageCount &&
		t.LocationChanged.Equal(other.LocationChanged) &&
		rawElementsEqual(t.Unknown, other.Unknown)
}

var errBadDate = errors.New("not a KeePass date")

// parseDate accepts both the textual and the base64 forms.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != 8 {
		return time.Time{}, errBadDate
	}
	secs := int64(binary.LittleEndian.Uint64(b))
	return time.Unix(secs-secondsToUnixEpoch, 0).UTC(), nil
}

func formatDate(t time.Time, v4 bool) string {
	if t.IsZero() {
		return ""
	}
	t = t.UTC()
	if !v4 {
		return t.Format(textDateLayout)
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(t.Unix()+secondsToUnixEpoch))
	return base64.StdEncoding.EncodeToString(b[:])
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// parseNullableBool maps "null", empty and unrecognized text to nil.
func parseNullableBool(s string) *bool {
	b, ok := parseBool(s)
	if !ok {
		return nil
	}
	return &b
}

func formatNullableBool(b *bool) string {
	switch {
	case b == nil:
		return "null"
	case *b:
		return "true"
	default:
		return "false"
	}
}
