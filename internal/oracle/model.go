package oracle

import (
	"fmt"

	"github.com/banshee-data/mvlm/internal/render"
)

// Model enumerates the trained detectors the inference service can run.
type Model int

const (
	// ModelDTU3D is trained on the DTU-3D face scans, 73 landmarks.
	ModelDTU3D Model = iota
	// ModelBU3DFE is trained on BU-3DFE, 84 landmarks, RGB only.
	ModelBU3DFE
)

func (m Model) String() string {
	switch m {
	case ModelDTU3D:
		return "MVLMModel_DTU3D"
	case ModelBU3DFE:
		return "MVLMModel_BU_3DFE"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// ParseModel maps a configuration value onto a Model.
func ParseModel(s string) (Model, error) {
	switch s {
	case "MVLMModel_DTU3D":
		return ModelDTU3D, nil
	case "MVLMModel_BU_3DFE":
		return ModelBU3DFE, nil
	}
	return 0, fmt.Errorf("unknown model %q", s)
}

// Landmarks returns the number of landmarks the model predicts.
func (m Model) Landmarks() int {
	if m == ModelBU3DFE {
		return 84
	}
	return 73
}

var names = map[Model][]string{
	ModelDTU3D:  indexNames("DTU3D", ModelDTU3D.Landmarks()),
	ModelBU3DFE: indexNames("BU3DFE", ModelBU3DFE.Landmarks()),
}

func indexNames(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s_%02d", prefix, i+1)
	}
	return out
}

// Names returns the model's landmark names in heatmap channel order. The
// slice is shared; callers must not modify it.
func (m Model) Names() []string { return names[m] }

var checkpoints = map[Model]map[render.ChannelMode]string{
	ModelDTU3D: {
		render.Geometry: "MVLMModel_DTU3D_geometry.pth",
		render.RGB:      "MVLMModel_DTU3D_RGB_07092019.pth",
		render.Depth:    "MVLMModel_DTU3D_Depth_19092019.pth",
		render.RGBDepth: "MVLMModel_DTU3D_RGB+depth_20092019.pth",
	},
	ModelBU3DFE: {
		render.RGB: "MVLMModel_BU_3DFE_RGB_24092019_6epoch.pth",
	},
}

// Checkpoint names the trained weights for a channel mode, or fails when
// the model was never trained on those channels.
func (m Model) Checkpoint(mode render.ChannelMode) (string, error) {
	name, ok := checkpoints[m][mode]
	if !ok {
		return "", fmt.Errorf("no %s checkpoint trained for %s channels", m, mode)
	}
	return name, nil
}
