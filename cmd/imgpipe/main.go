package main

import (
	"github.com/joho/godotenv"

	"imgpipe/internal/cli"
)

func main() {
	// A .env file, when present, feeds the lowest-priority credential
	// source before config loading reads the environment.
	_ = godotenv.Load()

	cli.Execute()
}
