package main

import (
	"context"
	"os"

	"github.com/vidgen/backend/internal/app"
	"github.com/vidgen/backend/internal/logging"
)

func main() {
	ctx := context.Background()
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		logging.Default().Fatal().Err(err).Msg("vidgen exited")
	}
}
