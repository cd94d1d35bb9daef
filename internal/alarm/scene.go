package alarm

import (
	"fmt"
	"strings"
)

// SceneType is the wire code of an alarm category.
type SceneType int

const (
	SceneSegmentation SceneType = -1
	SceneFloater      SceneType = 1
	SceneWaterGauge   SceneType = 2
	SceneLitter       SceneType = 3
	SceneFishing      SceneType = 5
	SceneSwimming     SceneType = 6
	SceneWaterColor   SceneType = 8
	SceneInvade       SceneType = 9
)

var sceneNames = map[SceneType]string{
	SceneSegmentation: "segmentation",
	SceneFloater:      "floater",
	SceneWaterGauge:   "water_gauge",
	SceneLitter:       "litter",
	SceneFishing:      "fishing",
	SceneSwimming:     "swimming",
	SceneWaterColor:   "water_color",
	SceneInvade:       "invade",
}

// SceneTypes lists every known scene type in wire-code order.
func SceneTypes() []SceneType {
	return []SceneType{
		SceneSegmentation,
		SceneFloater,
		SceneWaterGauge,
		SceneLitter,
		SceneFishing,
		SceneSwimming,
		SceneWaterColor,
		SceneInvade,
	}
}

func (s SceneType) String() string {
	if name, ok := sceneNames[s]; ok {
		return name
	}
	return fmt.Sprintf("scene(%d)", int(s))
}

// Known reports whether s is one of the defined scene types.
func (s SceneType) Known() bool {
	_, ok := sceneNames[s]
	return ok
}

// ParseSceneType accepts a scene name as used in config files.
func ParseSceneType(name string) (SceneType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "_")
	for s, sn := range sceneNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown scene type %q", name)
}

// MarshalText lets scene types appear by name in YAML and JSON.
func (s SceneType) MarshalText() ([]byte, error) {
	if !s.Known() {
		return nil, fmt.Errorf("unknown scene type %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a scene name.
func (s *SceneType) UnmarshalText(text []byte) error {
	parsed, err := ParseSceneType(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
