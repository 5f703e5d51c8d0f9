package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/convoy-dl/convoy/transfer"
	"github.com/convoy-dl/convoy/utils"
)

// Read loads a YAML list of transfer tasks. Every entry needs a url and a
// dest; hashes are optional and checked only when present.
func Read(filePath string) ([]transfer.Task, error) {
	log := utils.GetLogger("manifest")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var tasks []transfer.Task
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	for i, task := range tasks {
		if task.URL == "" {
			return nil, fmt.Errorf("missing URL for entry %d", i+1)
		}
		if task.Dest == "" {
			return nil, fmt.Errorf("missing destination for entry %d", i+1)
		}
	}
	log.Debug().Int("count", len(tasks)).Msg("Tasks loaded from manifest")
	return tasks, nil
}
