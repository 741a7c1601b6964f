package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dudu/faceswap/internal/inference"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <model>",
	Short: "Print a model's inputs, outputs and role binding",
	Long: `Print the inputs and outputs of a model and how its inputs bind to
pipeline roles. <model> is one of detector, embedder, swapper, parser,
enhancer (fetched through the cache) or a path to an .onnx file.

Examples:
  faceswap inspect swapper
  faceswap inspect ./det_10g.onnx`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	urls := map[string]string{
		"detector": cfg.Models.Detector,
		"embedder": cfg.Models.Embedder,
		"swapper":  cfg.Models.Swapper,
		"parser":   cfg.Models.Parser,
		"enhancer": cfg.Models.Enhancer,
	}
	table := inference.ImageOnly
	if args[0] == "swapper" {
		table = inference.SwapperInputs
	}

	var model []byte
	if url, ok := urls[args[0]]; ok {
		if url == "" {
			return fmt.Errorf("no URL configured for %s", args[0])
		}
		store, err := newStore(cfg)
		if err != nil {
			return err
		}
		model, err = store.Download(cmd.Context(), url, nil)
		if err != nil {
			return err
		}
	} else {
		model, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read model: %w", err)
		}
	}

	factory := newFactory(cfg)
	defer factory.Close()
	inputs, outputs, err := factory.Inspect(model)
	if err != nil {
		return err
	}

	fmt.Printf("Inputs (%d):\n", len(inputs))
	names := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = in.Name
		fmt.Printf("  %s: shape=%v, type=%s\n", in.Name, in.Shape, in.Type)
	}
	fmt.Printf("\nOutputs (%d):\n", len(outputs))
	for _, out := range outputs {
		fmt.Printf("  %s: shape=%v, type=%s\n", out.Name, out.Shape, out.Type)
	}

	fmt.Println("\nBinding:")
	resolved, err := table.Resolve(names)
	if err != nil {
		fmt.Printf("  unresolved: %v\n", err)
		return nil
	}
	for _, b := range table {
		fmt.Printf("  %s -> %s\n", b.Role, resolved[b.Role])
	}
	return nil
}
