package theme

import (
	"fmt"
	"io"
)

// Banner returns the startup banner.
func Banner() string {
	const cyan = "\033[36m"
	const magenta = "\033[35m"
	const reset = "\033[0m"

	return "" +
		cyan + "   ┌─┐┌─┐┌─┐┬┌─┐┬  ┌─┐┬ ┬┬  ┌─┐┌─┐\n" + reset +
		cyan + "   └─┐│ ││  │├─┤│  ├─┘│ ││  └─┐├┤ \n" + reset +
		cyan + "   └─┘└─┘└─┘┴┴ ┴┴─┘┴  └─┘┴─┘└─┘└─┘\n" + reset +
		magenta + "   ∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿∿\n" + reset +
		"   follower and engagement history across X, Telegram, Discord, Reddit\n"
}

// PrintBanner writes the banner to w.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner())
}
