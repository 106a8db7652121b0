// Command shortener runs the short link HTTP service.
package main

import (
	"log"

	"github.com/patric-chuzhbe/minurl/internal/app"
)

func main() {
	theApp, err := app.New()
	if err != nil {
		log.Fatalf("unable to start: %v", err)
	}
	defer theApp.Close()

	if err := theApp.Run(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
