// Command picktune tunes SeisComP scautopick parameters per station against
// manually reviewed picks.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
