package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dudu/faceswap/internal/detector"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "List the faces found in an image",
	Long: `Detect faces and print their boxes, confidences and five landmarks
(left eye, right eye, nose, left mouth corner, right mouth corner).

Examples:
  faceswap detect group.jpg
  faceswap detect group.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().Bool("json", false, "Print faces as JSON")
}

type faceJSON struct {
	Index      int          `json:"index"`
	Box        [4]float64   `json:"box"`
	Confidence float64      `json:"confidence"`
	Landmarks  [5][2]float64 `json:"landmarks"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	img, err := loadImage(args[0])
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer s.Close()

	_, faces, err := s.worker.Detect(cmd.Context(), img)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	if jsonOutput {
		return printFacesJSON(faces)
	}
	fmt.Printf("%d face(s) in %s (%dx%d)\n", len(faces), args[0], img.Width, img.Height)
	for _, f := range faces {
		fmt.Printf("  %s\n", f)
	}
	return nil
}

func printFacesJSON(faces []detector.Face) error {
	out := make([]faceJSON, len(faces))
	for i, f := range faces {
		out[i] = faceJSON{
			Index:      f.Index,
			Box:        [4]float64{f.Box.X, f.Box.Y, f.Box.Width, f.Box.Height},
			Confidence: f.Box.Confidence,
		}
		for j, p := range f.Landmarks {
			out[i].Landmarks[j] = [2]float64{p.X, p.Y}
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
