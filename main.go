// Command poicrawl sweeps map search results over a grid of areas and
// persists every unique place it finds.
package main

import (
	"github.com/JakeFAU/poi-grid-crawler/cmd"
)

func main() {
	cmd.Execute()
}
