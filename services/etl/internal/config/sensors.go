package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

type sensorsFile struct {
	Sensors []sensorEntry `json:"sensors" yaml:"sensors"`
}

type sensorEntry struct {
	ID      string `json:"id" yaml:"id"`
	ReadKey string `json:"read_key" yaml:"read_key"`
}

// Sensors resolves the sensor id to read key mapping. The sensors file wins
// when it exists and parses; otherwise PURPLEAIR_PRIVATE_SENSORS is used. A
// file that exists but cannot be read is reported alongside the fallback
// mapping so callers can warn and carry on.
func (c Config) Sensors() (map[string]string, error) {
	if c.PurpleAir.SensorsFile != "" {
		sensors, err := LoadSensorsFile(c.PurpleAir.SensorsFile)
		switch {
		case err == nil:
			return sensors, nil
		case !errors.Is(err, fs.ErrNotExist):
			return ParseSensorList(c.PurpleAir.PrivateSensors), err
		}
	}
	return ParseSensorList(c.PurpleAir.PrivateSensors), nil
}

// LoadSensorsFile reads {"sensors":[{"id":..,"read_key":..}]} from a JSON or
// YAML file, chosen by extension.
func LoadSensorsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var parsed sensorsFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &parsed)
	default:
		err = json.Unmarshal(data, &parsed)
	}
	if err != nil {
		return nil, fmt.Errorf("parse sensors file %s: %w", path, err)
	}

	sensors := make(map[string]string, len(parsed.Sensors))
	for _, s := range parsed.Sensors {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			continue
		}
		sensors[id] = strings.TrimSpace(s.ReadKey)
	}
	return sensors, nil
}

// ParseSensorList parses "id:key,id:key". Entries without a colon are skipped.
func ParseSensorList(v string) map[string]string {
	sensors := make(map[string]string)
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		id, key, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		sensors[id] = strings.TrimSpace(key)
	}
	return sensors
}
