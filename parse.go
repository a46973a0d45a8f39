package main

import (
	"fmt"
	"os"
)

// ProblemFile is a problem as read from disk, with the caller-facing name.
type ProblemFile struct {
	Name string
	Problem
}

// LoadProblem reads and parses a problem JSON file.
func LoadProblem(path string) (*ProblemFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	pf, err := ParseProblem(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pf, nil
}

// FindPiece returns the index of the piece with the given instance id, or -1.
func (p *Problem) FindPiece(instanceID string) int {
	for i := range p.Pieces {
		if p.Pieces[i].InstanceID == instanceID {
			return i
		}
	}
	return -1
}
