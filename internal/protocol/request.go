// Package protocol implements the tiny textual command protocol spoken over
// the request server's Unix socket: a single `<cmd> <arg>` line, optionally
// followed by a binary-safe value body for "set".
package protocol

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/keynanny/keynannyd/internal/errors"
)

// Verb identifies the parsed command.
type Verb string

const (
	VerbGet     Verb = "get"
	VerbSet     Verb = "set"
	VerbUnknown Verb = ""
)

// tokenPattern matches the `\w+` grammar both the command and the key must
// satisfy, per the protocol's parse step.
var tokenPattern = regexp.MustCompile(`^\w+$`)

// Request is one parsed command line.
type Request struct {
	Verb Verb
	Key  string
}

// ReadLine reads one line terminated by CR, LF, or CRLF from r, per the
// protocol's framing rule, and returns it with the terminator stripped.
// The LF of a CRLF pair is consumed only when it is already buffered, so a
// bare CR never blocks waiting for more input.
func ReadLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == '\n' || c == '\r' {
			if next, _ := r.Peek(r.Buffered()); c == '\r' && len(next) > 0 && next[0] == '\n' {
				_, _ = r.ReadByte()
			}
			return string(line), nil
		}
		line = append(line, c)
	}
}

func trimEOL(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

// Parse splits a raw line into `<cmd> <arg>` on the first space, validating
// that both tokens match `\w+`. A malformed line (no space, extra
// whitespace, or either token failing the pattern) is a ClientError; the
// caller replies CLIENT_ERROR and closes.
func Parse(line string) (Request, error) {
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return Request{}, errors.Wrap(errors.ErrClient, "invalid syntax")
	}
	cmd, arg := line[:idx], line[idx+1:]
	if !tokenPattern.MatchString(cmd) || !tokenPattern.MatchString(arg) {
		return Request{}, errors.Wrap(errors.ErrClient, "invalid syntax")
	}

	switch cmd {
	case string(VerbGet):
		return Request{Verb: VerbGet, Key: arg}, nil
	case string(VerbSet):
		return Request{Verb: VerbSet, Key: arg}, nil
	default:
		// Recognized syntax, unrecognized verb: this is not a ClientError
		// (the line parses fine), it dispatches to the server's "any other
		// verb" branch, which replies ERROR rather than CLIENT_ERROR.
		return Request{Verb: VerbUnknown, Key: arg}, nil
	}
}
