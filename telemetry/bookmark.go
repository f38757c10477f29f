package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkBreakthrough      BookmarkType = "breakthrough"
	BookmarkStagnation        BookmarkType = "stagnation"
	BookmarkDiversityCollapse BookmarkType = "diversity_collapse"
	BookmarkPerfectTracker    BookmarkType = "perfect_tracker"
)

// Bookmark marks a notable moment of a search run.
type Bookmark struct {
	Type        BookmarkType `csv:"type" json:"type"`
	Generation  int          `csv:"generation" json:"generation"`
	Description string       `csv:"description" json:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"generation", b.Generation,
		"description", b.Description,
	)
}

// BookmarkOptions tunes the detector.
type BookmarkOptions struct {
	HistorySize           int     // generations kept for rolling averages
	StagnationGenerations int     // generations without improvement before a stagnation bookmark
	DiversityCollapse     float64 // gene spread below which the population has collapsed
	FitnessCap            float64 // fitness of a perfect tracker
}

// BookmarkDetector detects notable moments in the search.
type BookmarkDetector struct {
	opts BookmarkOptions

	// Rolling history (circular buffer)
	history     []GenerationStats
	historyIdx  int
	historyFull bool

	bestSoFar     float64
	bestAt        int
	seenAny       bool
	stagnantFired bool // one stagnation bookmark per plateau
	collapsed     bool // one collapse bookmark until diversity recovers
	perfectFired  bool
}

// NewBookmarkDetector creates a detector.
func NewBookmarkDetector(opts BookmarkOptions) *BookmarkDetector {
	if opts.HistorySize < 5 {
		opts.HistorySize = 5
	}
	return &BookmarkDetector{
		opts:    opts,
		history: make([]GenerationStats, opts.HistorySize),
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats GenerationStats) []Bookmark {
	var bookmarks []Bookmark

	if bd.historyFull || bd.historyIdx > 0 {
		// Breakthrough: best fitness > 2x the rolling average of best
		if b := bd.checkBreakthrough(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}
	if b := bd.checkStagnation(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkDiversityCollapse(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkPerfectTracker(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats GenerationStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % len(bd.history)
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []GenerationStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func (bd *BookmarkDetector) checkBreakthrough(stats GenerationStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.BestFitness
	}
	avg := total / float64(len(history))
	if avg <= 0 {
		return nil
	}

	if stats.BestFitness > avg*2.0 {
		return &Bookmark{
			Type:        BookmarkBreakthrough,
			Generation:  stats.Generation,
			Description: fmt.Sprintf("Best fitness %.4g is %.1fx the recent average (%.4g)", stats.BestFitness, stats.BestFitness/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkStagnation(stats GenerationStats) *Bookmark {
	if !bd.seenAny || stats.BestFitness > bd.bestSoFar {
		bd.seenAny = true
		bd.bestSoFar = stats.BestFitness
		bd.bestAt = stats.Generation
		bd.stagnantFired = false
		return nil
	}

	n := bd.opts.StagnationGenerations
	if n <= 0 || bd.stagnantFired || stats.Generation-bd.bestAt < n {
		return nil
	}
	bd.stagnantFired = true
	return &Bookmark{
		Type:        BookmarkStagnation,
		Generation:  stats.Generation,
		Description: fmt.Sprintf("No improvement over %.4g for %d generations", bd.bestSoFar, stats.Generation-bd.bestAt),
	}
}

func (bd *BookmarkDetector) checkDiversityCollapse(stats GenerationStats) *Bookmark {
	threshold := bd.opts.DiversityCollapse
	if threshold <= 0 {
		return nil
	}
	if stats.GeneSpread >= threshold {
		bd.collapsed = false
		return nil
	}
	if bd.collapsed {
		return nil
	}
	bd.collapsed = true
	return &Bookmark{
		Type:        BookmarkDiversityCollapse,
		Generation:  stats.Generation,
		Description: fmt.Sprintf("Gene spread %.3g fell below %.3g", stats.GeneSpread, threshold),
	}
}

func (bd *BookmarkDetector) checkPerfectTracker(stats GenerationStats) *Bookmark {
	if bd.perfectFired || bd.opts.FitnessCap <= 0 || stats.BestFitness < bd.opts.FitnessCap {
		return nil
	}
	bd.perfectFired = true
	return &Bookmark{
		Type:        BookmarkPerfectTracker,
		Generation:  stats.Generation,
		Description: "Best candidate tracks the targets without error",
	}
}
