package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Console serializes writes from the CPU sampler, the event consumer and the
// report timer so a multi-line block is never split by another writer.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

// NewConsole wraps out; color is enabled only when out is a terminal.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, color: isTerminal(out)}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Print writes block atomically, appending a newline when missing.
func (c *Console) Print(block string) {
	if !strings.HasSuffix(block, "\n") {
		block += "\n"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, block)
}

// Printf formats and prints one block.
func (c *Console) Printf(format string, args ...any) {
	c.Print(fmt.Sprintf(format, args...))
}

// Header styles a section title.
func (c *Console) Header(text string) string {
	if !c.color {
		return text
	}
	return bold + heapFlame + text + reset
}

// Muted styles secondary text such as notices.
func (c *Console) Muted(text string) string {
	if !c.color {
		return text
	}
	return dimGray + text + reset
}

// PrintBanner shows the wordmark on interactive terminals only.
func (c *Console) PrintBanner() {
	if c.color {
		c.Print(Banner())
	}
}
