package main

import (
	"log"

	"github.com/rokeefe/inkwire/cmd/inkwirectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
