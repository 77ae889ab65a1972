// configcenter is the command-line front end of a directory-backed
// configuration center.
package main

import (
	"fmt"
	"os"
)

var (
	run    = func() error { return Execute(os.Args[1:]) }
	osExit = os.Exit
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}
