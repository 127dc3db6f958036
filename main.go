package main

import (
	"fmt"
	"os"

	"cartoonize/config"
	"cartoonize/logging"
	"cartoonize/style"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app is the state shared by every command.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	catalog *style.Catalog
}

func loadApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Settings.AppEnv, os.Stderr)

	catalog := style.DefaultCatalog()
	if path := cfg.Generation.StylesFile; path != "" {
		if catalog, err = style.LoadCatalog(path); err != nil {
			return nil, err
		}
		logger.Info().Str("path", path).Int("styles", len(catalog.Styles())).Msg("style catalog loaded")
	}
	return &app{cfg: cfg, logger: logger, catalog: catalog}, nil
}

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "cartoonize",
		Short: "Turn photos and prompts into cartoon-style images",
		Long: `cartoonize converts a photo or a text prompt into a cartoon-style image
using a text-to-image backend, a remote image-to-image backend or a local
diffusion pipeline, and optionally describes the result.

Commands:
  cartoonize serve     # web interface
  cartoonize run       # one-shot conversion from the command line
  cartoonize styles    # list styles and aspect ratios`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "conf.json", "path to the JSON configuration file")

	load := func() (*app, error) { return loadApp(configPath) }
	rootCmd.AddCommand(newServeCmd(load), newRunCmd(load), newStylesCmd(load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
