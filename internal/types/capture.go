package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Capture struct {
	Filename string `json:"filename"`
}

type CaptureList struct {
	Captures []Capture `json:"captures"`
}

func ParseCaptureList(data []byte) (CaptureList, error) {
	var list CaptureList
	if err := json.Unmarshal(data, &list); err != nil {
		return CaptureList{}, fmt.Errorf("%w: capture list: %v", ErrParse, err)
	}
	return list, nil
}

// Find returns the first capture whose filename contains name.
func (l CaptureList) Find(name string) (Capture, bool) {
	if name == "" {
		return Capture{}, false
	}
	for _, c := range l.Captures {
		if strings.Contains(c.Filename, name) {
			return c, true
		}
	}
	return Capture{}, false
}
