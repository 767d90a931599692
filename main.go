package main

import (
	"context"
	"os"

	"expense_sync/internal/app"
	"expense_sync/internal/cli"

	"github.com/rs/zerolog/log"
)

func main() {
	app.SetupEnvironment()
	log.Debug().Msg("Starting application")

	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}
