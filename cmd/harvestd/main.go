package main

import (
	"log"

	"github.com/i-mwangi/chai-project-sub002/services/harvestd"
)

func main() {
	if err := harvestd.Main(); err != nil {
		log.Fatalf("harvestd: %v", err)
	}
}
