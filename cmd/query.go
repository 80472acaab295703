package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
)

// queryFile is the on-disk form of a job's filters. YAML and JSON are both
// accepted; YAML is converted to JSON first so the filter decoders see one
// format.
type queryFile struct {
	Name           string               `json:"name"`
	CompanyFilters filter.Set           `json:"company_filters"`
	PersonFilters  []filter.PersonQuery `json:"person_filters"`
}

// loadQuery reads path, or stdin when path is "-".
func loadQuery(path string) (*queryFile, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read query %s", path)
	}
	return parseQuery(data, isYAML(path))
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func parseQuery(data []byte, asYAML bool) (*queryFile, error) {
	if asYAML {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, eris.Wrap(err, "parse query yaml")
		}
		converted, err := json.Marshal(raw)
		if err != nil {
			return nil, eris.Wrap(err, "convert query yaml")
		}
		data = converted
	}

	var q queryFile
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, eris.Wrap(err, "parse query")
	}
	return &q, nil
}
