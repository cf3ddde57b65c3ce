package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/felixgeelhaar/mnemo/internal/config"
	"github.com/felixgeelhaar/mnemo/internal/engine"
	"github.com/felixgeelhaar/mnemo/internal/observe"
)

func getObserver() *observe.Observer {
	if ciMode {
		return observe.NewJSON(os.Stdout, verbose)
	}
	return observe.New(os.Stdout, verbose)
}

func getConfig() *config.Config {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}
	return cfg
}

func getEngine(ctx context.Context, obs *observe.Observer) *engine.Engine {
	e, err := engine.Open(ctx, getConfig(), obs)
	if err != nil {
		fmt.Printf("Failed to open engine: %v\n", err)
		os.Exit(1)
	}
	return e
}
