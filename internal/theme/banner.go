package theme

import (
	"fmt"
)

// Banner returns the CLI banner.
func Banner() string {
	const orange = "\033[38;5;208m"
	const dim = "\033[2m"
	const reset = "\033[0m"

	art := "" +
		orange + "  ┬ ┬┌─┐┌─┐─┐ ┬┌─┐┌─┐┬─┐┌┬┐\n" + reset +
		orange + "  ├─┤└─┐├┤ ┌┴┬┘├─┘│ │├┬┘ │ \n" + reset +
		orange + "  ┴ ┴└─┘└─┘┴ └─┴  └─┘┴└─ ┴ \n" + reset
	tag := dim + "  CRM deals and activity snapshots as JSON\n" + reset
	return art + tag
}

// PrintBanner prints the banner to stdout.
func PrintBanner() {
	fmt.Print(Banner())
}
