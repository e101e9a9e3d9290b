package main

import (
	"os"

	"github.com/NamanBalaji/prepfetch/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
