package main

import (
	_ "time/tzdata"

	"github.com/pfrederiksen/homegames/internal/cli"
)

func main() {
	cli.Execute()
}
