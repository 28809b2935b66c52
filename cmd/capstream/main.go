// Command capstream records synthetic capture sessions through the
// capstream pipeline and inspects what earlier sessions left behind.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
