// Package taskscript is a minimal stand-in for the excluded mini-language
// parser (original source parse.c): a line-oriented reader that turns
// `node(...)`, `send(...)`, `kill(...)` and `print(...)` calls into
// dispatcher.Task values. It is deliberately tiny — no expressions, no
// variables, no operator precedence — since the full grammar is out of
// scope (spec Non-goals: "the binding of station identifiers to
// OS-level child processes" and the parser itself are excluded, not the
// task shapes it used to produce). Parsing follows cmd/can-server/config.go's
// style: explicit field-by-field string handling, no regexp.
package taskscript

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jhamm/wlansim/internal/dispatcher"
	"github.com/jhamm/wlansim/internal/wire"
)

// ParseError reports the source line a malformed statement came from.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("taskscript: line %d: %v (%q)", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Read scans r line by line and returns the tasks it describes, in
// order. Blank lines and lines whose first non-space byte is '#' are
// skipped. print(...) statements are recognized but produce no task —
// they exist in the operator surface for human-readable scripts, not
// for anything the core consumes.
func Read(r io.Reader) ([]dispatcher.Task, error) {
	var tasks []dispatcher.Task
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		task, skip, err := parseLine(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Err: err}
		}
		if skip {
			continue
		}
		tasks = append(tasks, task)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("taskscript: read: %w", err)
	}
	return tasks, nil
}

func parseLine(line string) (dispatcher.Task, bool, error) {
	name, argsStr, err := splitCall(line)
	if err != nil {
		return dispatcher.Task{}, false, err
	}
	args, err := splitArgs(argsStr)
	if err != nil {
		return dispatcher.Task{}, false, err
	}
	switch name {
	case "node":
		t, err := parseNode(args)
		return t, false, err
	case "send":
		t, err := parseSend(args)
		return t, false, err
	case "kill":
		t, err := parseKill(args)
		return t, false, err
	case "print":
		return dispatcher.Task{}, true, nil
	default:
		return dispatcher.Task{}, false, fmt.Errorf("unknown statement %q", name)
	}
}

// splitCall breaks "name(args)" into "name" and "args". It requires the
// line to end with ')' after the matching '('.
func splitCall(line string) (string, string, error) {
	open := strings.IndexByte(line, '(')
	if open < 0 || !strings.HasSuffix(line, ")") {
		return "", "", fmt.Errorf("expected call syntax name(args)")
	}
	name := strings.TrimSpace(line[:open])
	if name == "" {
		return "", "", fmt.Errorf("missing statement name")
	}
	return name, line[open+1 : len(line)-1], nil
}

// splitArgs splits a comma-separated argument list, respecting
// double-quoted strings so commas inside a payload string don't split
// the argument in two.
func splitArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var args []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			cur.WriteByte(c)
		case c == ',' && !inQuote:
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string literal")
	}
	args = append(args, strings.TrimSpace(cur.String()))
	return args, nil
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("expected a quoted string, got %q", s)
	}
	return s[1 : len(s)-1], nil
}

func parseNode(args []string) (dispatcher.Task, error) {
	if len(args) != 2 {
		return dispatcher.Task{}, fmt.Errorf("node(name, ifs) takes 2 arguments, got %d", len(args))
	}
	name, err := unquote(args[0])
	if err != nil {
		return dispatcher.Task{}, err
	}
	ifs, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return dispatcher.Task{}, fmt.Errorf("ifs: %w", err)
	}
	return dispatcher.Task{Create: &dispatcher.CreateStation{
		Name: wire.NewAddr(name),
		IFS:  secondsToDuration(ifs),
	}}, nil
}

func parseSend(args []string) (dispatcher.Task, error) {
	if len(args) != 5 {
		return dispatcher.Task{}, fmt.Errorf("send(src, dst, msg, period, repeat) takes 5 arguments, got %d", len(args))
	}
	src, err := unquote(args[0])
	if err != nil {
		return dispatcher.Task{}, fmt.Errorf("src: %w", err)
	}
	dst, err := unquote(args[1])
	if err != nil {
		return dispatcher.Task{}, fmt.Errorf("dst: %w", err)
	}
	msg, err := unquote(args[2])
	if err != nil {
		return dispatcher.Task{}, fmt.Errorf("msg: %w", err)
	}
	period, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return dispatcher.Task{}, fmt.Errorf("period: %w", err)
	}
	repeat, err := strconv.ParseBool(args[4])
	if err != nil {
		return dispatcher.Task{}, fmt.Errorf("repeat: %w", err)
	}
	return dispatcher.Task{Send: &dispatcher.Send{
		Src:     wire.NewAddr(src),
		Dst:     wire.NewAddr(dst),
		Payload: []byte(msg),
		Period:  secondsToDuration(period),
		Repeat:  repeat,
	}}, nil
}

func parseKill(args []string) (dispatcher.Task, error) {
	if len(args) != 1 {
		return dispatcher.Task{}, fmt.Errorf("kill(name) takes 1 argument, got %d", len(args))
	}
	name, err := unquote(args[0])
	if err != nil {
		return dispatcher.Task{}, err
	}
	return dispatcher.Task{Kill: &dispatcher.KillStation{Name: wire.NewAddr(name)}}, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
