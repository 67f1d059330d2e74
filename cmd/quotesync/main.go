package main

import (
	"os"

	"github.com/openfinance/quotesync/cmd/quotesync/commands"
)

func main() {
	os.Exit(commands.Execute())
}
