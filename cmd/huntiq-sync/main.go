// Package main is the entry point for the HuntIQ offline sync agent.
package main

import (
	"os"

	"github.com/steeveross-eng/huntiq-sync/cmd/huntiq-sync/app"
	"github.com/steeveross-eng/huntiq-sync/internal/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
