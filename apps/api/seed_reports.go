package main

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

//go:embed seeds/reports.yaml
var defaultSeedReports []byte

type seedReport struct {
	ID          int64     `yaml:"id"`
	Coords      []float64 `yaml:"coords"`
	Category    string    `yaml:"category"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
	Author      string    `yaml:"author"`
	Date        string    `yaml:"date"`
	Avatar      string    `yaml:"avatar"`
	Image       string    `yaml:"image"`
	Status      string    `yaml:"status"`
}

// loadSeedReports reads the reports a new session starts with. An empty path
// uses the embedded district seed.
func loadSeedReports(path string) ([]Report, error) {
	raw := defaultSeedReports
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed reports: %w", err)
		}
		raw = content
	}
	return parseSeedReports(raw)
}

func parseSeedReports(raw []byte) ([]Report, error) {
	var seeds []seedReport
	if err := yaml.Unmarshal(raw, &seeds); err != nil {
		return nil, fmt.Errorf("parse seed reports: %w", err)
	}

	reports := make([]Report, 0, len(seeds))
	seen := make(map[int64]struct{}, len(seeds))
	for i, seed := range seeds {
		if seed.ID <= 0 {
			return nil, fmt.Errorf("seed report %d: id must be positive", i)
		}
		if _, dup := seen[seed.ID]; dup {
			return nil, fmt.Errorf("seed report %d: duplicate id %d", i, seed.ID)
		}
		seen[seed.ID] = struct{}{}

		if len(seed.Coords) != 2 {
			return nil, fmt.Errorf("seed report %d: coords must be [lat, lng]", seed.ID)
		}
		category, err := ParseCategory(seed.Category)
		if err != nil {
			return nil, fmt.Errorf("seed report %d: %w", seed.ID, err)
		}
		status, err := ParseStatus(seed.Status)
		if err != nil {
			return nil, fmt.Errorf("seed report %d: %w", seed.ID, err)
		}

		report := Report{
			ID:          seed.ID,
			Coords:      Coords{seed.Coords[0], seed.Coords[1]},
			Category:    category,
			Title:       seed.Title,
			Description: seed.Description,
			Author:      seed.Author,
			Date:        seed.Date,
			Avatar:      seed.Avatar,
			Status:      status,
		}
		if seed.Image != "" {
			image := seed.Image
			report.Image = &image
		}
		reports = append(reports, report)
	}
	return reports, nil
}
