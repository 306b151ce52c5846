// Command mainloop demonstrates and exercises main-thread dispatch.
package main

import (
	"fmt"
	"os"

	"github.com/go-drift/mainloop/cmd/mainloop/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
