package reader

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/rfidctl/internal/testutil/testlog"
)

func TestParseTagForms(t *testing.T) {
	testlog.Start(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		line string
		want Tag
		ok   bool
	}{
		{"E20000165919004418405CBA", Tag{ID: "E20000165919004418405CBA", ReadCount: 1, LastSeen: now}, true},
		{"E200001659, 2, 7, 1709294400000", Tag{ID: "E200001659", Antenna: 2, ReadCount: 7, LastSeen: time.UnixMilli(1709294400000).UTC()}, true},
		{"  E200001659 , 1 ", Tag{ID: "E200001659", Antenna: 1, ReadCount: 1, LastSeen: now}, true},
		{"Tag:E200 0016 5919, Disc:2024/03/01 11:59:59, Last:2024/03/01 12:00:00, Count:3, Ant:1", Tag{ID: "E20000165919", Antenna: 1, ReadCount: 3, LastSeen: now}, true},
		{"(No Tags)", Tag{}, false},
		{"Error 1: Command not understood.", Tag{}, false},
		{"E200, x, 1, 1", Tag{}, false},
		{"E200, 1, 1, 1, extra", Tag{}, false},
		{"Tag:, Ant:1", Tag{}, false},
		{"", Tag{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseTag(tc.line, now)
		if ok != tc.ok {
			t.Fatalf("line=%q ok=%t want=%t", tc.line, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Fatalf("line=%q got=%+v want=%+v", tc.line, got, tc.want)
		}
	}
}

func TestClassifyLine(t *testing.T) {
	testlog.Start(t)
	now := time.Now()
	cases := map[string]LineKind{
		"":                           LineEmpty,
		"   ":                        LineEmpty,
		"#Alien RFID Reader":         LineHeader,
		NoTags:                       LineNoTags,
		"E20000165919004418405CBA":   LineTag,
		"Tag List has been cleared!": LineUnparsed,
	}
	for line, want := range cases {
		if got, _ := ClassifyLine(line, now); got != want {
			t.Fatalf("line=%q got=%s want=%s", line, got, want)
		}
	}
}

func TestDispatchLineRoutesToSink(t *testing.T) {
	testlog.Start(t)
	var tags []Tag
	var unparsed []string
	sink := Sink{
		Tag:      func(tag Tag) { tags = append(tags, tag) },
		Unparsed: func(line string) { unparsed = append(unparsed, line) },
	}
	now := time.Now()
	for _, line := range []string{"#header", "", NoTags, "E200", "garbage!"} {
		dispatchLine(sink, sourcePoll, line, now)
	}
	if len(tags) != 1 || tags[0].ID != "E200" {
		t.Fatalf("unexpected tags: %+v", tags)
	}
	if len(unparsed) != 1 || unparsed[0] != "garbage!" {
		t.Fatalf("unexpected unparsed: %q", unparsed)
	}
	// nil handlers are allowed
	dispatchLine(Sink{}, sourceStream, "E200", now)
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []Config{
		{KeepaliveInterval: 400 * time.Millisecond},
		{KeepaliveInterval: 61 * time.Second},
		func() Config {
			c := DefaultConfig()
			c.KeepaliveInterval = c.Session.ReceiveTimeout
			return c
		}(),
		func() Config {
			c := DefaultConfig()
			c.Session.ReceiveTimeout = -1
			return c
		}(),
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Fatalf("case %d: expected configuration error", i)
		} else if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("case %d: expected ErrConfiguration, got %v", i, err)
		}
	}
}
