package geometry

import "fmt"

// Preset is a named, immutable set of ROIs drawn against a specific frame size
type Preset struct {
	PresetName  string  `json:"preset_name"`
	Description string  `json:"description"`
	Timestamp   string  `json:"timestamp"`
	FrameWidth  int     `json:"frame_width"`
	FrameHeight int     `json:"frame_height"`
	ROIs        ROIList `json:"rois"`
}

// Validate checks the preset name and every contained ROI.
func (p *Preset) Validate() error {
	if p.PresetName == "" {
		return fmt.Errorf("preset name is required")
	}
	if p.FrameWidth <= 0 || p.FrameHeight <= 0 {
		return fmt.Errorf("preset %q: frame dimensions must be positive (got %dx%d)",
			p.PresetName, p.FrameWidth, p.FrameHeight)
	}
	for i, roi := range p.ROIs {
		if err := roi.Validate(); err != nil {
			return fmt.Errorf("preset %q roi %d: %w", p.PresetName, i, err)
		}
	}
	return nil
}
