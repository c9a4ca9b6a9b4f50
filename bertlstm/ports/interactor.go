package ports

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type Interactor interface {
	Output(message string)
	Warning(message string)
	Error(message string, err error)
	StartSpinner(message string)
	StopSpinner(success bool, message string)
}

type styles struct {
	dim  lipgloss.Style
	ok   lipgloss.Style
	warn lipgloss.Style
	fail lipgloss.Style
}

func defaultStyles() styles {
	subtle := lipgloss.AdaptiveColor{Light: "245", Dark: "244"}
	return styles{
		dim:  lipgloss.NewStyle().Foreground(subtle),
		ok:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		warn: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		fail: lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
}

// Console writes to a terminal. The spinner is a single status line that is
// closed by StopSpinner with the elapsed time.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	err     io.Writer
	st      styles
	task    string
	started time.Time
}

var _ Interactor = (*Console)(nil)

// NewConsole returns a console writing to out and err; nil means stdout and stderr.
func NewConsole(out, err io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	if err == nil {
		err = os.Stderr
	}
	return &Console{out: out, err: err, st: defaultStyles()}
}

func (c *Console) Output(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, message)
}

func (c *Console) Warning(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.err, c.st.warn.Render("warning:"), message)
}

func (c *Console) Error(message string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		fmt.Fprintln(c.err, c.st.fail.Render("error:"), message+":", err)
		return
	}
	fmt.Fprintln(c.err, c.st.fail.Render("error:"), message)
}

func (c *Console) StartSpinner(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.task = message
	c.started = time.Now()
	fmt.Fprintln(c.err, c.st.dim.Render("..."), message)
}

func (c *Console) StopSpinner(success bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if message == "" {
		message = c.task
	}
	mark := c.st.ok.Render("ok")
	if !success {
		mark = c.st.fail.Render("failed")
	}
	elapsed := ""
	if !c.started.IsZero() {
		elapsed = c.st.dim.Render(fmt.Sprintf("(%s)", time.Since(c.started).Round(time.Millisecond)))
	}
	fmt.Fprintln(c.err, mark, message, elapsed)
	c.task = ""
	c.started = time.Time{}
}
