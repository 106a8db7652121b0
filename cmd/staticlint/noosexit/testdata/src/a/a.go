package main

import (
	"fmt"
	sys "os"
)

func main() {
	fmt.Println("starting")
	sys.Exit(1) // want "avoid using os.Exit in main.main"

	defer func() {
		sys.Exit(2)
	}()
}

func helper() {
	sys.Exit(3)
}
