// Command toursapi serves the tours booking REST API.
package main

import (
	"github.com/patric-chuzhbe/toursapi/internal/app"
)

func main() {
	theApp, err := app.New()
	if err != nil {
		panic(err)
	}
	defer theApp.Close()

	if err := theApp.Run(); err != nil {
		panic(err)
	}
}
