package mobie

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConvertToAbsolute returns an absolute path for a path that may be relative to baseDir.
func ConvertToAbsolute(path, baseDir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(baseDir, path))
}

// WriteJSONFile writes an arbitrary but exportable Go object to an indented JSON file,
// creating parent directories as needed.
func WriteJSONFile(filename string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("can't create directory for JSON file %s: %v", filename, err)
	}
	m, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error in writing JSON file %s: %v", filename, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, m, "", "    "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	if err := os.WriteFile(filename, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write JSON file %s: %v", filename, err)
	}
	return nil
}

// ReadJSONFile decodes a JSON file into value.
func ReadJSONFile(filename string, value interface{}) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("no data in JSON file %s", filename)
	}
	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("error reading JSON file %s: %v", filename, err)
	}
	return nil
}

// FileExists returns true if something exists at the path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
