package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/AngelCh415/adreports/internal/models"
)

// Report is a named report definition as stored on disk.
type Report struct {
	Name   string              `json:"name"`
	Config models.ReportConfig `json:"config"`
}

// LoadReport reads a YAML or JSON report file. The file holds either
// {name, config} or a bare report config, in which case the file name
// becomes the report name.
func LoadReport(path string) (Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Report{}, errors.Wrapf(err, "reading report file %s", path)
	}
	r, err := ParseReport(b)
	if err != nil {
		return Report{}, errors.Wrapf(err, "parsing report file %s", path)
	}
	if r.Name == "" {
		r.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return r, nil
}

// ParseReport decodes YAML (a superset of JSON) through the JSON field
// names of the report types.
func ParseReport(b []byte) (Report, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Report{}, err
	}
	if doc == nil {
		return Report{}, errors.New("empty report definition")
	}
	if _, wrapped := doc["config"]; !wrapped {
		doc = map[string]any{"config": doc}
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return Report{}, err
	}
	var r Report
	if err := json.Unmarshal(j, &r); err != nil {
		return Report{}, err
	}
	return r, nil
}
