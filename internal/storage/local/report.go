package local

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

// WriteReport stores the run report as JSON at path.
func WriteReport(path string, report *crawler.Report) error {
	if path == "" {
		return fmt.Errorf("report path is required")
	}
	payload, err := EncodeJSON(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return WriteFileAtomic(path, payload)
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*crawler.Report, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied report path
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", path, err)
	}
	var report crawler.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &report, nil
}
