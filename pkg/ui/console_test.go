package ui

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsolePlainWriterHasNoColor(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	assert.False(t, c.color)
	assert.Equal(t, "Report", c.Header("Report"))
	assert.Equal(t, "note", c.Muted("note"))

	c.PrintBanner()
	assert.Empty(t, buf.String(), "banner is only shown on terminals")
}

func TestConsolePrintAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.Print("one")
	c.Printf("two %d\n", 2)
	assert.Equal(t, "one\ntwo 2\n", buf.String())
}

func TestConsoleColorStyles(t *testing.T) {
	c := &Console{out: &bytes.Buffer{}, color: true}
	assert.Contains(t, c.Header("Report"), bold)
	assert.True(t, strings.HasSuffix(c.Muted("x"), reset))
}

func TestConsoleBlocksDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	block := "a\nb\nc\n"

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Print(block)
		}()
	}
	wg.Wait()

	assert.Equal(t, strings.Repeat(block, 50), buf.String())
}
