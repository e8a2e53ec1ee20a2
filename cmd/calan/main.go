// Command calan calibrates two-input spectrometer designs on ROACH boards:
// sideband-separating receivers and balance-mixer LO noise cancellers.
package main

import (
	"fmt"
	"os"

	"github.com/FrancoCalan/simulink-models/internal/logging"
)

func main() {
	err := newRootCmd().Execute()
	// stderr may not support fsync
	_ = logging.Sync(logging.Default())
	if err != nil {
		fmt.Fprintln(os.Stderr, "calan:", err)
		os.Exit(1)
	}
}
