package simulator

import (
	"strings"

	"github.com/danmuck/rfidctl/internal/reader"
)

const (
	Username = "alien"
	Password = "password"

	// StreamHeader opens every pushed tag stream.
	StreamHeader = "#Alien RFID Reader Simulator"

	commandTerminators = "\n"
	replyTerminator    = reader.ResponseTerminators
	streamLineEnd      = "\r\n\x00"
)

// Welcome is the banner sent on accept, before the welcome terminator.
var Welcome = strings.Join([]string{
	"***********************************************",
	"*",
	"* Alien Technology : RFID Reader ",
	"*",
	"***********************************************",
	"",
	reader.WelcomeSuffix,
}, "\r\n")

// KnownTags are reported by TagList once AntennaSequence is 0.
var KnownTags = []string{
	"E20000165919004418405CBA",
	"E20000165919006718405C92",
	"E20000165919007818405C7B",
	"E20000165919007718405C83",
	"E20000165919006518405C91",
}
