// Package catalog loads the community and technology catalog from a YAML
// file into the store. The catalog is read-only to the API; this is the only
// writer.
//
// File format:
//
//	communities:
//	  - name: Go
//	    description: Gophers and friends
//	    icon: code
//	    color: "#00ADD8"
//	    member_count: 120
//	    technologies:
//	      - name: chi
//	        category: Web
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/repository"
)

// Entry is one community with its technologies.
type Entry struct {
	model.Community `yaml:",inline"`
	Inactive        bool               `yaml:"inactive"`
	Technologies    []model.Technology `yaml:"technologies"`
}

// File is the parsed seed file.
type File struct {
	Communities []Entry `yaml:"communities"`
}

// Parse decodes and checks a seed file. Names are required and must be
// unique: communities across the file, technologies within a community.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("catalog: parsing: %w", err)
	}

	seen := make(map[string]bool)
	for i, c := range f.Communities {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("catalog: community #%d has no name", i+1)
		}
		if seen[strings.ToLower(name)] {
			return nil, fmt.Errorf("catalog: duplicate community %q", name)
		}
		seen[strings.ToLower(name)] = true
		f.Communities[i].Name = name

		techSeen := make(map[string]bool)
		for j, t := range c.Technologies {
			tname := strings.TrimSpace(t.Name)
			if tname == "" {
				return nil, fmt.Errorf("catalog: %s: technology #%d has no name", name, j+1)
			}
			if techSeen[strings.ToLower(tname)] {
				return nil, fmt.Errorf("catalog: %s: duplicate technology %q", name, tname)
			}
			techSeen[strings.ToLower(tname)] = true
			f.Communities[i].Technologies[j].Name = tname
			f.Communities[i].Technologies[j].Category = strings.TrimSpace(t.Category)
		}
	}
	return &f, nil
}

// Summary counts what Seed wrote.
type Summary struct {
	Communities  int
	Technologies int
}

// Seed upserts every community and technology by name. Running it twice
// with the same file changes nothing.
func Seed(ctx context.Context, repo repository.CatalogRepository, f *File, logger *slog.Logger) (Summary, error) {
	var sum Summary
	for _, entry := range f.Communities {
		community := entry.Community
		community.IsActive = !entry.Inactive
		if err := repo.UpsertCommunity(ctx, &community); err != nil {
			return sum, fmt.Errorf("catalog: upserting community %q: %w", community.Name, err)
		}
		sum.Communities++

		for _, tech := range entry.Technologies {
			tech.CommunityID = community.ID
			tech.IsActive = true
			if err := repo.UpsertTechnology(ctx, &tech); err != nil {
				return sum, fmt.Errorf("catalog: upserting technology %q in %q: %w", tech.Name, community.Name, err)
			}
			sum.Technologies++
		}

		logger.Info("community seeded",
			slog.String("name", community.Name),
			slog.Int64("communityID", community.ID),
			slog.Int("technologies", len(entry.Technologies)),
		)
	}
	return sum, nil
}
