package ui

import "strings"

const (
	reset       = "\033[0m"
	bold        = "\033[1m"
	beeYellow   = "\033[38;5;226m"
	honeyOrange = "\033[38;5;214m"
	mint        = "\033[38;5;121m"
	cobalt      = "\033[38;5;33m"
	fuchsia     = "\033[38;5;177m"
	heapFlame   = "\033[38;5;208m"
	dimGray     = "\033[38;5;244m"
)

// Banner renders a colored allocscope wordmark.
func Banner() string {
	var b strings.Builder

	letters := [][]string{
		{" █████╗ ", "██╔══██╗", "███████║", "██╔══██║", "██║  ██║", "╚═╝  ╚═╝"},
		{"██╗     ", "██║     ", "██║     ", "██║     ", "███████╗", "╚══════╝"},
		{"██╗     ", "██║     ", "██║     ", "██║     ", "███████╗", "╚══════╝"},
		{" ██████╗ ", "██╔═══██╗", "██║   ██║", "██║   ██║", "╚██████╔╝", " ╚═════╝ "},
		{" ██████╗", "██╔════╝", "██║     ", "██║     ", "╚██████╗", " ╚═════╝"},
	}
	gradient := []string{heapFlame, honeyOrange, beeYellow, mint, cobalt}
	rows := make([]string, len(letters[0]))
	for i, letter := range letters {
		color := gradient[i%len(gradient)]
		for row := 0; row < len(letter); row++ {
			rows[row] += color + letter[row] + " "
		}
	}
	for _, line := range rows {
		b.WriteString(bold + line + reset + "\n")
	}

	b.WriteString("\n")
	b.WriteString(bold + heapFlame + "allocscope" + reset + "  •  " + fuchsia + "live allocation lens" + reset + "\n\n")

	return b.String()
}
