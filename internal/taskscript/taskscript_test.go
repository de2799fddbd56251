package taskscript

import (
	"strings"
	"testing"
	"time"

	"github.com/jhamm/wlansim/internal/wire"
)

func TestReadParsesAllStatementKinds(t *testing.T) {
	script := `
# bring up two stations
node("A", 0.01)
node("B", 0.02)

print("starting exchange")
send("A", "B", "hello", 1.5, true)
kill("A")
`
	tasks, err := Read(strings.NewReader(script))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("got %d tasks, want 4 (print should produce none)", len(tasks))
	}

	if tasks[0].Create == nil || tasks[0].Create.Name != wire.NewAddr("A") {
		t.Fatalf("task 0 = %+v, want CreateStation A", tasks[0])
	}
	if tasks[0].Create.IFS != 10*time.Millisecond {
		t.Fatalf("IFS = %v, want 10ms", tasks[0].Create.IFS)
	}

	if tasks[1].Create == nil || tasks[1].Create.Name != wire.NewAddr("B") {
		t.Fatalf("task 1 = %+v, want CreateStation B", tasks[1])
	}

	send := tasks[2].Send
	if send == nil {
		t.Fatalf("task 2 = %+v, want Send", tasks[2])
	}
	if send.Src != wire.NewAddr("A") || send.Dst != wire.NewAddr("B") {
		t.Fatalf("send src/dst = %v/%v", send.Src, send.Dst)
	}
	if string(send.Payload) != "hello" {
		t.Fatalf("payload = %q, want hello", send.Payload)
	}
	if send.Period != 1500*time.Millisecond || !send.Repeat {
		t.Fatalf("period/repeat = %v/%v", send.Period, send.Repeat)
	}

	if tasks[3].Kill == nil || tasks[3].Kill.Name != wire.NewAddr("A") {
		t.Fatalf("task 3 = %+v, want KillStation A", tasks[3])
	}
}

func TestReadRejectsMalformedLine(t *testing.T) {
	_, err := Read(strings.NewReader(`node("A", 0.01`))
	if err == nil {
		t.Fatal("expected an error for an unterminated call")
	}
	var pe *ParseError
	if !asParseError(err, &pe) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if pe.Line != 1 {
		t.Fatalf("Line = %d, want 1", pe.Line)
	}
}

func TestReadRejectsWrongArgCount(t *testing.T) {
	_, err := Read(strings.NewReader(`send("A", "B")`))
	if err == nil {
		t.Fatal("expected an error for wrong argument count")
	}
}

func TestReadRejectsUnknownStatement(t *testing.T) {
	_, err := Read(strings.NewReader(`frobnicate("A")`))
	if err == nil {
		t.Fatal("expected an error for an unknown statement")
	}
}

func TestSplitArgsRespectsQuotedCommas(t *testing.T) {
	args, err := splitArgs(`"A", "B", "hi, there", 1.0, false`)
	if err != nil {
		t.Fatalf("splitArgs: %v", err)
	}
	if len(args) != 5 {
		t.Fatalf("got %d args, want 5: %v", len(args), args)
	}
	if args[2] != `"hi, there"` {
		t.Fatalf("args[2] = %q, want quoted string with embedded comma", args[2])
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if !ok {
		return false
	}
	*target = pe
	return true
}
