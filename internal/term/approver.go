package term

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// InteractiveApprover asks the operator on the terminal before a flagged
// operation runs. Anything other than an explicit yes — including EOF —
// is a denial.
type InteractiveApprover struct {
	in  *bufio.Reader
	out io.Writer
}

func NewInteractiveApprover() *InteractiveApprover {
	return &InteractiveApprover{in: bufio.NewReader(os.Stdin), out: os.Stderr}
}

func NewInteractiveApproverIO(in io.Reader, out io.Writer) *InteractiveApprover {
	return &InteractiveApprover{in: bufio.NewReader(in), out: out}
}

func (a *InteractiveApprover) RequestApproval(ctx context.Context, tool string, input map[string]any) bool {
	detail := ""
	if data, err := json.Marshal(input); err == nil {
		detail = string(data)
	}
	fmt.Fprintf(a.out, "\nApproval required for %s %s\nProceed? [y/N] ", tool, detail)

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := a.in.ReadString('\n')
		ch <- answer{text: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(a.out, "\nDenied (cancelled).")
		return false
	case got := <-ch:
		if got.err != nil && got.text == "" {
			return false
		}
		reply := strings.ToLower(strings.TrimSpace(got.text))
		return reply == "y" || reply == "yes"
	}
}
