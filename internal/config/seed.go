package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// SeedFile is the YAML layout of the job description seed file.
type SeedFile struct {
	UserID          int64                   `yaml:"user_id"`
	JobDescriptions []domain.JobDescription `yaml:"job_descriptions"`
}

// LoadSeedFile reads job descriptions to preload. Entries without a user id
// inherit the file level one.
func LoadSeedFile(path string) (SeedFile, error) {
	b, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return SeedFile{}, fmt.Errorf("op=config.LoadSeedFile: %w", err)
	}
	var sf SeedFile
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return SeedFile{}, fmt.Errorf("op=config.LoadSeedFile: parse %s: %w", path, err)
	}
	for i := range sf.JobDescriptions {
		if sf.JobDescriptions[i].UserID == 0 {
			sf.JobDescriptions[i].UserID = sf.UserID
		}
	}
	return sf, nil
}
