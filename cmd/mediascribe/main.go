package main

import (
	"os"

	"github.com/mediascribe/mediascribe/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
