package console

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/common-nighthawk/go-figure"
	"github.com/fatih/color"
)

// PrintBanner writes the startup banner: the application name in ASCII
// art followed by a colored tagline.
func PrintBanner(w io.Writer, version string) {
	fig := figure.NewFigure("KeyMaker", "", true)
	fmt.Fprint(w, fig.String())

	tagline := color.New(color.FgGreen, color.Bold)
	tagline.Fprintf(w, "Encrypted wallet vault console, version %s\n\n",
		version)
}

// NewUnlockSpinner returns a terminal spinner shown while the vault is
// being decrypted. The caller starts and stops it.
func NewUnlockSpinner(message string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	return s
}
