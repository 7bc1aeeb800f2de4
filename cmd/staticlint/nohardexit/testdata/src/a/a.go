package main

import (
	"log"
	"os"
	exit "os"
)

func helper() {
	os.Exit(2)
}

func main() {
	defer helper()

	if len(os.Args) > 3 {
		log.Fatalf("too many arguments: %d", len(os.Args)) // want "avoid using log.Fatalf in main.main"
	}
	if len(os.Args) > 2 {
		exit.Exit(1) // want "avoid using os.Exit in main.main"
	}
	func() {
		os.Exit(0) // want "avoid using os.Exit in main.main"
	}()
	log.Println("done")
}
