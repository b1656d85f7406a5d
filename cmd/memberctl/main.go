package main

import (
	"os"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := command(logger).Execute(); err != nil {
		os.Exit(1)
	}
}
