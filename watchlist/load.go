package watchlist

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFromFileJSON reads a Config from a JSON file. Entry validation happens
// in NewMatcher, not here; this only fails on unreadable or syntactically
// invalid files.
func LoadFromFileJSON(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading list config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing list config: %w", err)
	}
	return &cfg, nil
}
