package main

import (
	"os"

	"fundingscan/internal/commands"
	"fundingscan/logger"

	"github.com/joho/godotenv"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
