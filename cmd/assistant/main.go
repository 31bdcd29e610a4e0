// Package main is the entry point for the Helix assistant service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/helix-assistant/cmd/assistant/app"
)

func main() {
	app.NewApp().Run()
}
