// Package screening matches merged individuals against a sanctions list.
package screening

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"

	"intake/internal/registration/models"
	"intake/pkg/domain"
)

// Entry is one sanctioned party.
type Entry struct {
	FullName  string
	Reference string
}

// Flag is one screening hit.
type Flag struct {
	IndividualID domain.IndividualID
	MatchedName  string
	Reference    string
	Distance     int
}

// Screener flags individuals matching the sanctions list.
type Screener interface {
	Screen(ctx context.Context, individuals []*models.Individual) ([]Flag, error)
}

// Fuzzy matches names by Levenshtein distance scaled to name length: short
// names must match exactly, longer names tolerate a few edits.
type Fuzzy struct {
	entries []Entry
}

func NewFuzzy(entries []Entry) *Fuzzy {
	return &Fuzzy{entries: entries}
}

func (f *Fuzzy) Screen(_ context.Context, individuals []*models.Individual) ([]Flag, error) {
	var flags []Flag
	for _, ind := range individuals {
		name := normalizeName(ind.FullName)
		if name == "" {
			continue
		}
		for _, entry := range f.entries {
			candidate := normalizeName(entry.FullName)
			dist := levenshtein.ComputeDistance(name, candidate)
			if dist <= maxEdits(candidate) {
				flags = append(flags, Flag{
					IndividualID: ind.ID,
					MatchedName:  entry.FullName,
					Reference:    entry.Reference,
					Distance:     dist,
				})
				break
			}
		}
	}
	return flags, nil
}

// maxEdits mirrors the search index's AUTO fuzziness gates.
func maxEdits(name string) int {
	switch n := len([]rune(name)); {
	case n < 3:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Noop never flags anyone; used when no sanctions list is configured.
type Noop struct{}

func (Noop) Screen(context.Context, []*models.Individual) ([]Flag, error) { return nil, nil }
