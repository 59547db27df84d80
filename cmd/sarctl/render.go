package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/podushkina/sarflow/internal/client"
	"github.com/podushkina/sarflow/internal/task"
	"golang.org/x/term"
)

// render prints updates until the channel closes. On a terminal the
// progress line is redrawn in place; otherwise every change gets its own
// line.
func render(w io.Writer, updates <-chan client.Update) error {
	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	var last client.Update
	for u := range updates {
		last = u
		if interactive {
			fmt.Fprint(w, "\r\x1b[K")
		}
		for _, e := range u.Logs {
			printEntry(w, e)
		}
		status := fmt.Sprintf("[%s] %3d%% %s", u.Status, u.Progress, u.Stage)
		if interactive && !u.Final {
			fmt.Fprint(w, status)
		} else {
			fmt.Fprintln(w, status)
		}
	}

	switch {
	case last.Gone:
		return fmt.Errorf("task %s is no longer known to the server", last.TaskID)
	case last.Status == task.StatusFailed:
		return fmt.Errorf("task failed: %s", last.Error)
	case !last.Final:
		fmt.Fprintln(w, "\nstopped following; run `sarctl watch` to resume")
	}
	return nil
}

func printEntry(w io.Writer, e task.LogEntry) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-7s", e.Timestamp.Local().Format(time.TimeOnly), strings.ToUpper(string(e.Level)))
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	fmt.Fprintln(w, b.String())
}
