package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/pipeline"
	"github.com/dudu/faceswap/internal/swapper"
)

var swapCmd = &cobra.Command{
	Use:   "swap",
	Short: "Render the source identity onto faces of the target image",
	Long: `Swap the identity of one face in the source image onto faces of the
target image. By default the largest source face is used and every target
face is replaced.

Examples:
  faceswap swap --source me.jpg --target group.jpg --out out.png

  # Replace only faces 0 and 2 and restore them afterwards
  faceswap swap -s me.jpg -t group.jpg --faces 0,2 --enhance

  # Print how close each swapped face is to the source identity
  faceswap swap -s me.jpg -t group.jpg --report`,
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringP("source", "s", "", "Image with the identity to use (required)")
	swapCmd.Flags().StringP("target", "t", "", "Image whose faces are replaced (required)")
	swapCmd.Flags().StringP("out", "o", "swapped.png", "Output file (.png or .jpg)")
	swapCmd.Flags().Int("source-face", -1, "Source face index (-1 = largest)")
	swapCmd.Flags().String("faces", "all", "Target face indices, comma separated, or 'all'")
	swapCmd.Flags().BoolP("enhance", "e", false, "Restore swapped faces with the enhancer model")
	swapCmd.Flags().Bool("report", false, "Print identity similarity of each swapped face")
	_ = swapCmd.MarkFlagRequired("source")
	_ = swapCmd.MarkFlagRequired("target")
}

func runSwap(cmd *cobra.Command, args []string) error {
	sourcePath, _ := cmd.Flags().GetString("source")
	targetPath, _ := cmd.Flags().GetString("target")
	outPath, _ := cmd.Flags().GetString("out")
	sourceFace, _ := cmd.Flags().GetInt("source-face")
	faceList, _ := cmd.Flags().GetString("faces")
	enhance, _ := cmd.Flags().GetBool("enhance")
	report, _ := cmd.Flags().GetBool("report")
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	source, err := loadImage(sourcePath)
	if err != nil {
		return err
	}
	target, err := loadImage(targetPath)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg, enhance)
	if err != nil {
		return err
	}
	defer s.Close()

	_, sourceFaces, err := s.worker.Detect(ctx, source)
	if err != nil {
		return fmt.Errorf("source detection failed: %w", err)
	}
	src, err := pickFace(sourceFaces, sourceFace)
	if err != nil {
		return fmt.Errorf("source image: %w", err)
	}

	_, targetFaces, err := s.worker.Detect(ctx, target)
	if err != nil {
		return fmt.Errorf("target detection failed: %w", err)
	}
	selected, err := selectFaces(targetFaces, faceList)
	if err != nil {
		return fmt.Errorf("target image: %w", err)
	}

	_, out, err := s.worker.Swap(ctx, pipeline.SwapRequest{
		Source:          source,
		SourceLandmarks: src.Landmarks,
		Target:          target,
		TargetFaces:     selected,
	})
	if err != nil {
		return fmt.Errorf("swap failed: %w", err)
	}
	if err := saveImage(outPath, out); err != nil {
		return err
	}

	timing, err := s.worker.Timing(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Swapped %d face(s) into %s (embed %v, swap %v, parse %v, blend %v, enhance %v, total %v)\n",
		len(selected), outPath, timing.Embedding, timing.Swap, timing.Parse, timing.Blend, timing.Enhance, timing.Total)

	if report {
		return printReport(ctx, s, source, src, out, selected)
	}
	return nil
}

// printReport compares the source identity with each swapped face.
func printReport(ctx context.Context, s *session, source *imageops.Image, src detector.Face, out *imageops.Image, faces []detector.Face) error {
	want, err := s.worker.Embed(ctx, source, src.Landmarks)
	if err != nil {
		return err
	}
	fmt.Println("Identity similarity (cosine, source vs swapped):")
	for _, f := range faces {
		got, err := s.worker.Embed(ctx, out, f.Landmarks)
		if err != nil {
			return err
		}
		fmt.Printf("  face #%d: %.3f\n", f.Index, swapper.CosineSimilarity(want.Raw, got.Raw))
	}
	return nil
}

// pickFace returns faces[index], or the largest face when index is negative.
func pickFace(faces []detector.Face, index int) (detector.Face, error) {
	if index < 0 {
		f, ok := detector.Largest(faces)
		if !ok {
			return detector.Face{}, errors.New("no face detected")
		}
		return f, nil
	}
	for _, f := range faces {
		if f.Index == index {
			return f, nil
		}
	}
	return detector.Face{}, fmt.Errorf("face %d not found among %d", index, len(faces))
}

// selectFaces resolves "all" or a comma-separated index list.
func selectFaces(faces []detector.Face, list string) ([]detector.Face, error) {
	if len(faces) == 0 {
		return nil, errors.New("no face detected")
	}
	if list == "" || list == "all" {
		return faces, nil
	}
	var out []detector.Face
	for _, part := range strings.Split(list, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid face index %q", part)
		}
		f, err := pickFace(faces, i)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
