package main

import (
	"os"

	"github.com/userdesk-dev/userdesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
