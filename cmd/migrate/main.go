// migrate applies database migrations from the embedded SQL files.
package main

import (
	"flag"
	"fmt"
	"os"

	"geoattend/internal/config"
	"geoattend/internal/store"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg := config.Load()

	if err := store.Migrate(cfg.DatabaseURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
