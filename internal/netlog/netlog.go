// Package netlog is the ambient logging helper shared by the stack and
// rawsocket packages and the tunnel binaries, in the same
// verbose/verbosef/errorf idiom as httptap.go.
package netlog

import (
	"log"
	"strings"

	"github.com/fatih/color"
)

// Verbose gates V/Vf output. Binaries set it from a -v flag;
// tests leave it false.
var Verbose bool

// V logs msg if Verbose is set.
func V(msg string) {
	if Verbose {
		log.Print(msg)
	}
}

// Vf logs a formatted message if Verbose is set.
func Vf(format string, args ...interface{}) {
	if Verbose {
		log.Printf(format, args...)
	}
}

var errorColor = color.New(color.FgRed, color.Bold)

// Errorf always logs, in bold red, regardless of Verbose. Reserved for
// conditions the dispatcher cannot recover from locally (fatal raw-adapter
// errors); parse errors that are common on a busy host (UnknownProtocol,
// Truncated) must use V/Vf instead, never Errorf — see spec §7.
func Errorf(format string, args ...interface{}) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	errorColor.Printf(format, args...)
}
