package main

import (
	"log"
	"os"
)

func main() {
	logger := log.New(os.Stderr, "[pixelfit] ", log.LstdFlags|log.Lmsgprefix)
	if err := newRootCmd(os.Stdout, logger).Execute(); err != nil {
		logger.Printf("error: %v", err)
		os.Exit(1)
	}
}
