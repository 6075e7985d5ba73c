package theme

import (
	"fmt"
	"io"
)

// Banner returns the CLI banner.
func Banner() string {
	const cyan = "\033[36m"
	const magenta = "\033[35m"
	const reset = "\033[0m"

	return "" +
		cyan + "  ┌─┐ ┌─┐ ┌─┐\n" + reset +
		cyan + "  │1│─│2│─│3│  " + reset + magenta + "THREADIFY" + reset + "\n" +
		cyan + "  └─┘ └─┘ └─┘\n" + reset +
		"  articles in, threads out\n"
}

// PrintBanner writes the banner to w.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner())
}
