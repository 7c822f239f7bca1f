package tracking

import "math"

// MovementStats summarizes the trajectory of one tracking run
type MovementStats struct {
	TotalDistance   float64 `json:"total_distance"`
	AverageVelocity float64 `json:"average_velocity"`
	MaxVelocity     float64 `json:"max_velocity"`
	CenterOfMassX   float64 `json:"center_of_mass_x"`
	CenterOfMassY   float64 `json:"center_of_mass_y"`
	FramesAnalyzed  int     `json:"frames_analyzed"`
}

// AnalyzeMovement computes distance and velocity statistics over the
// detected centroids. Frames without a detection are skipped; velocity is
// the per-step displacement between consecutive detected frames.
func AnalyzeMovement(frames []Frame) MovementStats {
	var stats MovementStats
	var sumX, sumY float64
	var prevX, prevY float64
	havePrev := false
	detected := 0

	for i := range frames {
		f := &frames[i]
		if !f.HasDetection() {
			continue
		}
		x, y := *f.CentroidX, *f.CentroidY
		sumX += x
		sumY += y
		detected++
		if havePrev {
			dx, dy := x-prevX, y-prevY
			v := math.Sqrt(dx*dx + dy*dy)
			stats.TotalDistance += v
			if v > stats.MaxVelocity {
				stats.MaxVelocity = v
			}
		}
		prevX, prevY = x, y
		havePrev = true
	}

	stats.FramesAnalyzed = len(frames)
	if detected > 0 {
		stats.CenterOfMassX = sumX / float64(detected)
		stats.CenterOfMassY = sumY / float64(detected)
	}
	if detected > 1 {
		stats.AverageVelocity = stats.TotalDistance / float64(detected-1)
	}
	return stats
}

// OpenFieldStats is the center/periphery occupancy of an open field test
type OpenFieldStats struct {
	CenterTime          int     `json:"center_time"`
	PeripheryTime       int     `json:"periphery_time"`
	CenterPercentage    float64 `json:"center_percentage"`
	PeripheryPercentage float64 `json:"periphery_percentage"`
	TotalFrames         int     `json:"total_frames"`
}

// AnalyzeOpenField classifies each detected frame as center or periphery of
// a circular arena. The center zone is the inner half of the arena radius.
func AnalyzeOpenField(frames []Frame, arenaCenterX, arenaCenterY, arenaRadius float64) OpenFieldStats {
	var stats OpenFieldStats
	for i := range frames {
		f := &frames[i]
		if !f.HasDetection() {
			continue
		}
		dx := *f.CentroidX - arenaCenterX
		dy := *f.CentroidY - arenaCenterY
		if math.Sqrt(dx*dx+dy*dy) < arenaRadius*0.5 {
			stats.CenterTime++
		} else {
			stats.PeripheryTime++
		}
	}
	stats.TotalFrames = stats.CenterTime + stats.PeripheryTime
	if stats.TotalFrames > 0 {
		stats.CenterPercentage = float64(stats.CenterTime) / float64(stats.TotalFrames) * 100
		stats.PeripheryPercentage = float64(stats.PeripheryTime) / float64(stats.TotalFrames) * 100
	}
	return stats
}
