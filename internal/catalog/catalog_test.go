package catalog

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowex/knowex-api/internal/repository/sqlite"
)

const sample = `
communities:
  - name: " Go "
    description: Gophers
    color: "#00ADD8"
    member_count: 12
    technologies:
      - { name: chi, category: Web }
      - { name: pgx, category: " Databases " }
      - { name: misc }
  - name: Archive
    inactive: true
    technologies: []
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, f.Communities, 2)

	goEntry := f.Communities[0]
	assert.Equal(t, "Go", goEntry.Name)
	assert.Equal(t, 12, goEntry.MemberCount)
	require.Len(t, goEntry.Technologies, 3)
	assert.Equal(t, "Databases", goEntry.Technologies[1].Category)
	assert.Equal(t, "", goEntry.Technologies[2].Category)
	assert.True(t, f.Communities[1].Inactive)
}

func TestParse_Empty(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Communities)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "communities:\n  - name: Go\n    members: 3\n"},
		{"missing community name", "communities:\n  - description: nameless\n"},
		{"duplicate community", "communities:\n  - name: Go\n  - name: go\n"},
		{"missing technology name", "communities:\n  - name: Go\n    technologies:\n      - category: Web\n"},
		{"duplicate technology", "communities:\n  - name: Go\n    technologies:\n      - name: chi\n      - name: CHI\n"},
		{"not yaml", "communities: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSeed_Idempotent(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	f, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	for range 2 {
		sum, err := Seed(ctx, db, f, discardLogger())
		require.NoError(t, err)
		assert.Equal(t, Summary{Communities: 2, Technologies: 3}, sum)
	}

	communities, err := db.ListActiveCommunities(ctx)
	require.NoError(t, err)
	require.Len(t, communities, 1, "inactive community must not be listed")
	assert.Equal(t, "Go", communities[0].Name)

	techs, err := db.ListActiveTechnologies(ctx, communities[0].ID)
	require.NoError(t, err)
	assert.Len(t, techs, 3)
}
