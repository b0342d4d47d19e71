package main

import (
	"os"

	"github.com/arencloud/bucketwarden/internal/cli"
	"github.com/arencloud/bucketwarden/internal/config"
)

func main() {
	cfg := config.Load()
	if err := cli.Execute(cfg); err != nil {
		os.Exit(1)
	}
}
