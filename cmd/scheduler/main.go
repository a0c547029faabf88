package main

import (
	"os"

	"github.com/namanarora00/scheduler/cmd/scheduler/cmd"
	"github.com/namanarora00/scheduler/internal/common"
)

func main() {
	common.ConfigureLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
