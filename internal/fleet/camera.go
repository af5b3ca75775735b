package fleet

import (
	"fmt"
	"strconv"
	"strings"
)

// CameraSignalKind identifies what the camera observed.
type CameraSignalKind int

// Camera signal kinds.
const (
	CameraEmotions CameraSignalKind = iota + 1
	CameraFaces
	CameraMovement
)

// String returns the wire name of the kind.
func (k CameraSignalKind) String() string {
	switch k {
	case CameraEmotions:
		return "emotions"
	case CameraFaces:
		return "faces"
	case CameraMovement:
		return "movement"
	default:
		return "unknown"
	}
}

// CameraSignal is one parsed camera message.
type CameraSignal struct {
	Kind     CameraSignalKind
	Emotions []string
	Faces    int
	Moving   bool
}

// ParseCameraSignal parses the camera's text messages:
//
//	emotions: ['Happiness,0.99', 'Sadness,0.71']
//	faces: 3
//	movement: movement
func ParseCameraSignal(msg string) (CameraSignal, error) {
	key, value, ok := strings.Cut(strings.TrimSpace(msg), ":")
	if !ok {
		return CameraSignal{}, fmt.Errorf("%w: %q", ErrInvalidCameraSignal, msg)
	}
	value = strings.TrimSpace(value)

	switch strings.TrimSpace(key) {
	case "emotions":
		return CameraSignal{Kind: CameraEmotions, Emotions: parseEmotionList(value)}, nil
	case "faces":
		n, err := strconv.Atoi(value)
		if err != nil {
			return CameraSignal{}, fmt.Errorf("%w: face count %q", ErrInvalidCameraSignal, value)
		}
		return CameraSignal{Kind: CameraFaces, Faces: n}, nil
	case "movement":
		return CameraSignal{Kind: CameraMovement, Moving: value == "movement"}, nil
	default:
		return CameraSignal{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidCameraSignal, key)
	}
}

// parseEmotionList extracts the names from a list of "name,score" pairs.
func parseEmotionList(s string) []string {
	s = strings.NewReplacer("[", "", "]", "", "'", "", `"`, "").Replace(s)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	fields := strings.Split(s, ",")
	names := make([]string, 0, len(fields)/2+1)
	for i := 0; i < len(fields); i += 2 {
		if name := strings.TrimSpace(fields[i]); name != "" {
			names = append(names, name)
		}
	}
	return names
}
