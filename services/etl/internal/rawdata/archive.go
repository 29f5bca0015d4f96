// Package rawdata keeps a copy of each upstream payload on disk.
package rawdata

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/models"
)

// Archive writes payloads under Dir.
type Archive struct {
	Dir string
	Now func() time.Time
}

// Save writes payload to <Dir>/<source>_<UTC timestamp>.json and returns
// the path.
func (a *Archive) Save(source string, payload models.RawPayload) (string, error) {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", source, err)
	}

	name := fmt.Sprintf("%s_%s.json", source, now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(a.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
