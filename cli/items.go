package cli

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ldv-klever/klever-scheduler/domain"
)

// readItems loads the work items of a job: a JSON or YAML list of
// {fragment, requirement_class, requirement_name} objects.
func readItems(path string) ([]domain.WorkItemKey, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading work items")
	}
	return parseItems(path, data)
}

func parseItems(path string, data []byte) ([]domain.WorkItemKey, error) {
	var items []domain.WorkItemKey
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &items); err != nil {
			return nil, errors.Wrapf(err, "parsing YAML work items %s", path)
		}
	default:
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, errors.Wrapf(err, "parsing work items %s", path)
		}
	}
	for i, k := range items {
		if k.Fragment == "" || k.RequirementClass == "" || k.RequirementName == "" {
			return nil, fmt.Errorf("work item #%d in %s is incomplete: %+v", i, path, k)
		}
	}
	return items, nil
}
