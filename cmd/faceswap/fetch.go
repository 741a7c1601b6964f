package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download and cache every configured model",
	Long: `Download the configured models into the local cache so later commands
start without network access. Cached models are skipped.

Examples:
  faceswap fetch
  faceswap fetch --enhance`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().BoolP("enhance", "e", false, "Also fetch the enhancer model")
}

type artifact struct {
	name, url string
}

func runFetch(cmd *cobra.Command, args []string) error {
	enhance, _ := cmd.Flags().GetBool("enhance")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	m := cfg.Models
	artifacts := []artifact{
		{"detector", m.Detector},
		{"embedder", m.Embedder},
		{"swapper", m.Swapper},
		{"emap", m.Emap},
		{"parser", m.Parser},
	}
	if enhance {
		artifacts = append(artifacts, artifact{"enhancer", m.Enhancer})
	}

	for _, a := range artifacts {
		if a.url == "" {
			continue
		}
		if store.IsCached(a.url) {
			fmt.Printf("%-9s cached\n", a.name)
			continue
		}
		var bar *progressbar.ProgressBar
		_, err := store.Download(cmd.Context(), a.url, func(current, total int64) {
			if bar == nil {
				bar = progressbar.NewOptions64(total,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription(a.name),
					progressbar.OptionShowBytes(true),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionFullWidth(),
				)
			}
			bar.Set64(current)
		})
		if bar != nil {
			bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", a.name, err)
		}
	}
	fmt.Printf("Models cached in %s\n", cfg.Cache.Dir)
	return nil
}
