package main

import (
	"os"

	wlantx "github.com/doismellburning/wlantx/src"
)

func main() {
	os.Exit(wlantx.SimMain(os.Args[1:]))
}
