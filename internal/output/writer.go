package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rgbd-stream-go/internal/measure"
)

type measurementFile struct {
	Device       string                          `json:"device"`
	Written      time.Time                       `json:"written"`
	Summary      map[string]measure.StageSummary `json:"summary"`
	Measurements []measure.Measurement           `json:"measurements"`
}

// WriteMeasurements dumps ms as JSON under dir/<MM_dd>/<device>/ and returns
// the file path. Nothing is written for an empty slice.
func WriteMeasurements(dir string, device string, ms []measure.Measurement) (string, error) {
	if len(ms) == 0 {
		return "", nil
	}
	if device == "" {
		device = "unknown"
	}
	now := time.Now()
	target := filepath.Join(dir, now.Format("01_02"), device)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", err
	}

	agg := measure.NewAggregator()
	for _, m := range ms {
		agg.Add(m)
	}
	payload, err := json.MarshalIndent(measurementFile{
		Device:       device,
		Written:      now,
		Summary:      agg.Summary(),
		Measurements: ms,
	}, "", "  ")
	if err != nil {
		return "", err
	}

	filename := filepath.Join(target, fmt.Sprintf("%s_data_%s.json", device, now.Format("01_02_04_05.000")))
	if err := os.WriteFile(filename, payload, 0o644); err != nil {
		return "", err
	}
	return filename, nil
}
