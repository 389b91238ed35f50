package config

import (
	"fmt"
	"os"

	"gig-chat/internal/models"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document used to populate the in-memory store:
//
//	users:
//	  - id: u1
//	    name: Ada
//	    email: ada@example.com
//	    role: employer
//	jobs:
//	  - id: j1
//	    title: Barista
//	    employerId: u1
type SeedFile struct {
	Users []*models.User `yaml:"users"`
	Jobs  []SeedJob      `yaml:"jobs"`
}

type SeedJob struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title"`
	EmployerID string `yaml:"employerId"`
}

// LoadSeedFile reads and validates a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %v", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %v", path, err)
	}
	seen := make(map[string]bool, len(seed.Users))
	for i, u := range seed.Users {
		if u == nil || u.ID == "" {
			return nil, fmt.Errorf("seed user %d has no id", i)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("duplicate seed user id %q", u.ID)
		}
		seen[u.ID] = true
	}
	for i, j := range seed.Jobs {
		if j.ID == "" || j.EmployerID == "" {
			return nil, fmt.Errorf("seed job %d needs id and employerId", i)
		}
	}
	return &seed, nil
}

// ModelJobs converts the seed jobs.
func (s *SeedFile) ModelJobs() []*models.Job {
	jobs := make([]*models.Job, 0, len(s.Jobs))
	for _, j := range s.Jobs {
		jobs = append(jobs, &models.Job{ID: j.ID, Title: j.Title, EmployerID: j.EmployerID})
	}
	return jobs
}
