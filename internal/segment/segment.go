// Package segment decides which pages of a multi-ballot scanned document
// belong to which ballot. Pages are partitioned into contiguous groups by
// comparing heading fingerprints of neighbouring pages, then groups are
// matched positionally against the ballots sharing the document.
package segment

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/civiclab/sopn/internal/geometry"
)

// AllPages is the relevant-pages sentinel meaning every page of the
// document belongs to the ballot.
const AllPages = "all"

// Options carries the empirically calibrated tunables for page grouping.
type Options struct {
	// HeadingBand is the fraction of page height treated as the heading
	// region.
	HeadingBand float64
	// SimilarityThreshold is the minimum heading-overlap ratio for a page
	// to count as a continuation of the previous one.
	SimilarityThreshold float64
	// BlankTokenMin is the token count below which a page is considered
	// blank.
	BlankTokenMin int
}

// DefaultOptions returns the tunables calibrated against sample
// statements: running headers repeat enough of the previous page's
// heading to clear the threshold, while the ceremonial header opening a
// new statement does not.
func DefaultOptions() Options {
	return Options{
		HeadingBand:         0.4,
		SimilarityThreshold: 0.75,
		BlankTokenMin:       3,
	}
}

// Group is a contiguous run of page numbers belonging to one statement.
type Group struct {
	Pages []int
}

// PageList renders the group as a comma-joined ascending page list,
// e.g. "1,2,3,4".
func (g Group) PageList() string {
	parts := make([]string, 0, len(g.Pages))
	for _, p := range g.Pages {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, ",")
}

// Ballot is the minimal view of an electoral contest the segmenter needs:
// its ballot paper ID (the stable sort key) and any relevant-pages value
// already assigned.
type Ballot struct {
	ID            string
	RelevantPages string
}

// Assignment records the relevant-pages result for one ballot.
type Assignment struct {
	BallotID string
	Pages    string
}

// MismatchError reports that detected page groups could not be matched
// against the document's ballots. It is a review flag, not a fatal
// condition: no assignment is guessed.
type MismatchError struct {
	Groups  int
	Ballots int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("segmentation mismatch: %d page groups for %d ballots", e.Groups, e.Ballots)
}

// Segmenter groups document pages and matches groups to ballots.
type Segmenter struct {
	opts Options
}

// New returns a Segmenter, filling unset options from DefaultOptions.
func New(opts Options) *Segmenter {
	def := DefaultOptions()
	if opts.HeadingBand <= 0 {
		opts.HeadingBand = def.HeadingBand
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = def.SimilarityThreshold
	}
	if opts.BlankTokenMin <= 0 {
		opts.BlankTokenMin = def.BlankTokenMin
	}
	return &Segmenter{opts: opts}
}

// Options returns the segmenter's normalized options.
func (s *Segmenter) Options() Options {
	return s.opts
}

// GroupPages partitions the document's pages into contiguous groups.
// Page N continues the current group when it is blank (scanner separator
// pages), when its heading is empty (a statement never begins without
// header text), when its heading equals the previous heading, or when the
// heading overlap ratio reaches the similarity threshold. Otherwise it
// starts a new group.
//
// Pages with zero text fragments are reported in the returned warnings
// and treated as blank; the rest of the document continues processing.
func (s *Segmenter) GroupPages(doc *geometry.Document) ([]Group, []error) {
	var (
		groups      []Group
		warnings    []error
		prevHeading map[string]struct{}
	)
	for i := range doc.Pages {
		page := &doc.Pages[i]

		heading, err := page.Heading(s.opts.HeadingBand)
		if err != nil {
			warnings = append(warnings, err)
			heading = nil
		}
		blank := page.Blank(s.opts.BlankTokenMin)

		cont := false
		var ratio float64
		switch {
		case i == 0:
			// first page always opens the first group
		case blank, len(heading) == 0:
			cont = true
		case setsEqual(heading, prevHeading):
			cont = true
		default:
			ratio = overlapRatio(heading, prevHeading)
			cont = ratio >= s.opts.SimilarityThreshold
		}

		if cont && len(groups) > 0 {
			groups[len(groups)-1].Pages = append(groups[len(groups)-1].Pages, page.Number)
		} else {
			groups = append(groups, Group{Pages: []int{page.Number}})
		}
		slog.Debug("segmenter page decision",
			"page", page.Number,
			"blank", blank,
			"heading_tokens", len(heading),
			"overlap", ratio,
			"continuation", cont)

		if !blank && len(heading) > 0 {
			prevHeading = heading
		}
	}
	return groups, warnings
}

// MatchGroups assigns page groups to ballots. A single ballot owns every
// page regardless of grouping. Multiple ballots are matched positionally:
// groups in page order against ballots sorted by ballot paper ID. A count
// mismatch yields a MismatchError and no assignments.
func (s *Segmenter) MatchGroups(groups []Group, ballots []Ballot) ([]Assignment, error) {
	if len(ballots) == 0 {
		return nil, &MismatchError{Groups: len(groups), Ballots: 0}
	}
	if len(ballots) == 1 {
		return []Assignment{{BallotID: ballots[0].ID, Pages: AllPages}}, nil
	}
	if len(groups) != len(ballots) {
		return nil, &MismatchError{Groups: len(groups), Ballots: len(ballots)}
	}

	sorted := make([]Ballot, len(ballots))
	copy(sorted, ballots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	assignments := make([]Assignment, 0, len(groups))
	for i, g := range groups {
		assignments = append(assignments, Assignment{BallotID: sorted[i].ID, Pages: g.PageList()})
	}
	return assignments, nil
}

// setsEqual reports whether two token sets hold exactly the same tokens.
func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for tok := range a {
		if _, ok := b[tok]; !ok {
			return false
		}
	}
	return true
}

// overlapRatio is the overlap coefficient of two token sets: the
// intersection size over the smaller set size. The smaller-set divisor
// keeps a slim running header that repeats part of a full ceremonial
// header scoring high.
func overlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(small))
}
