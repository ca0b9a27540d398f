package main

import (
	"os"

	"github.com/scan-io-git/scanguard/cmd"
)

func main() {
	code := cmd.Execute()
	os.Exit(code)
}
