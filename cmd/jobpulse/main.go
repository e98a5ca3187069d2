// The main package for the jobpulse executable.
package main

import (
	"github.com/aniketms/jobpulse/cmd"
)

func main() {
	cmd.Execute()
}
