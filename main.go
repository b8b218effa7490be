package main

import (
	"errors"
	"log"
	"os"

	"mspro-labs/sienna-grabber/cmd"
	"mspro-labs/sienna-grabber/internal/config"
	"mspro-labs/sienna-grabber/internal/pipeline"
)

func main() {
	err := cmd.Execute()
	if err == nil {
		return
	}

	var cfgErr *config.ConfigurationError
	var stageErr *pipeline.StageError
	switch {
	case errors.As(err, &cfgErr):
		log.Printf("Config error: %v", err)
	case errors.As(err, &stageErr):
		log.Printf("Run failed in the %s stage: %v", stageErr.Stage, stageErr.Err)
	default:
		log.Printf("Error: %v", err)
	}
	os.Exit(cmd.ExitCode(err))
}
