package probe

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const barLength = 30

// ProgressBar draws a single-line progress bar. It draws nothing unless enabled.
type ProgressBar struct {
	w       io.Writer
	enabled bool
}

// NewProgressBar returns a bar on f, enabled only when f is a terminal.
func NewProgressBar(f *os.File) *ProgressBar {
	return &ProgressBar{w: f, enabled: term.IsTerminal(int(f.Fd()))}
}

// NewProgressBarWriter returns an always-enabled bar on w.
func NewProgressBarWriter(w io.Writer) *ProgressBar {
	return &ProgressBar{w: w, enabled: true}
}

// Update prints the bar for current out of total
func (b *ProgressBar) Update(current, total int, title string) {
	if b == nil || !b.enabled || total <= 0 {
		return
	}
	percent := float64(current) / float64(total)
	filled := int(percent * barLength)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barLength-filled)
	fmt.Fprintf(b.w, "\r[%s] %.0f%% (%d/%d) %s", bar, percent*100, current, total, title)
	if current == total {
		fmt.Fprintln(b.w)
	}
}
