package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	initHelp(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		outputError(os.Stderr, err)
		os.Exit(1)
	}
}
