package detector

import "sort"

// NMS sorts faces by confidence and greedily drops any face whose box
// overlaps an already kept face by more than iouThreshold. Landmarks stay
// attached to their box. Index is reassigned in output order.
func NMS(faces []Face, iouThreshold float64) []Face {
	if len(faces) == 0 {
		return nil
	}

	sorted := append([]Face(nil), faces...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Box.Confidence > sorted[j].Box.Confidence
	})

	result := make([]Face, 0, len(sorted))
	for _, f := range sorted {
		keep := true
		for _, k := range result {
			if IoU(f.Box, k.Box) > iouThreshold {
				keep = false
				break
			}
		}
		if keep {
			f.Index = len(result)
			result = append(result, f)
		}
	}
	return result
}

// IoU calculates Intersection over Union of two bounding boxes
func IoU(a, b Box) float64 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X2(), b.X2())
	y2 := min(a.Y2(), b.Y2())

	if x1 >= x2 || y1 >= y2 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
