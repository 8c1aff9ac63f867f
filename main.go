package main

import (
	"github.com/BioHazard786/shareboard/cmd"
	"github.com/BioHazard786/shareboard/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
