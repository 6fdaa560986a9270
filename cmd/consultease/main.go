// Package main is the entry point for the ConsultEase central system.
package main

import (
	"os"

	"github.com/consultease/consultease/cmd/consultease/app"
	"github.com/consultease/consultease/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(app.ExitCode(err))
	}
}
