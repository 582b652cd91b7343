package reader

import (
	"strconv"
	"strings"
	"time"
)

// Tag is one sighting reported by the reader.
type Tag struct {
	ID        string    `json:"id"`
	Antenna   int       `json:"antenna"`
	ReadCount int       `json:"read_count"`
	LastSeen  time.Time `json:"last_seen"`
}

// Sink receives decoded stream and poll output. Either field may be nil.
type Sink struct {
	Tag      func(Tag)
	Unparsed func(line string)
}

func (s Sink) tag(t Tag) {
	if s.Tag != nil {
		s.Tag(t)
	}
}

func (s Sink) unparsed(line string) {
	if s.Unparsed != nil {
		s.Unparsed(line)
	}
}

// LineKind classifies one line of tag output.
type LineKind int

const (
	LineEmpty LineKind = iota
	LineHeader
	LineNoTags
	LineTag
	LineUnparsed
)

func (k LineKind) String() string {
	switch k {
	case LineEmpty:
		return "empty"
	case LineHeader:
		return "header"
	case LineNoTags:
		return "no_tags"
	case LineTag:
		return "tag"
	default:
		return "unparsed"
	}
}

// ClassifyLine decodes one line. Only LineTag returns a meaningful Tag.
func ClassifyLine(line string, now time.Time) (LineKind, Tag) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return LineEmpty, Tag{}
	case strings.HasPrefix(line, "#"):
		return LineHeader, Tag{}
	case line == NoTags:
		return LineNoTags, Tag{}
	}
	if t, ok := ParseTag(line, now); ok {
		return LineTag, t
	}
	return LineUnparsed, Tag{}
}

// ParseTag accepts the custom "%k, %a, %r, %T" form, a bare tag id, and the
// reader's default "Tag:<id>, ..., Ant:<n>, Count:<n>" text form. Fields
// missing from the line default to antenna 0, one read, seen at now.
func ParseTag(line string, now time.Time) (Tag, bool) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "Tag:") {
		return parseTextTag(line, now)
	}
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	t := Tag{ID: fields[0], ReadCount: 1, LastSeen: now}
	if !validTagID(t.ID) {
		return Tag{}, false
	}
	if len(fields) > 4 {
		return Tag{}, false
	}
	var err error
	if len(fields) > 1 {
		if t.Antenna, err = strconv.Atoi(fields[1]); err != nil {
			return Tag{}, false
		}
	}
	if len(fields) > 2 {
		if t.ReadCount, err = strconv.Atoi(fields[2]); err != nil {
			return Tag{}, false
		}
	}
	if len(fields) > 3 {
		ms, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return Tag{}, false
		}
		t.LastSeen = time.UnixMilli(ms).UTC()
	}
	return t, true
}

func parseTextTag(line string, now time.Time) (Tag, bool) {
	t := Tag{ReadCount: 1, LastSeen: now}
	for _, part := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Tag":
			t.ID = strings.ReplaceAll(value, " ", "")
		case "Ant":
			if n, err := strconv.Atoi(value); err == nil {
				t.Antenna = n
			}
		case "Count":
			if n, err := strconv.Atoi(value); err == nil {
				t.ReadCount = n
			}
		}
	}
	if !validTagID(t.ID) {
		return Tag{}, false
	}
	return t, true
}

// validTagID accepts non-empty hexadecimal EPC strings.
func validTagID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
