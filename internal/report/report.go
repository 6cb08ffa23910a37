// Package report exports completed call analyses to an Excel workbook for
// sales managers: one overview row per call and one detail row per coachable
// moment.
package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/types"
)

const (
	callsSheet   = "Calls"
	momentsSheet = "Coachable Moments"
)

// Write renders the workbook to path. Results should already be in a stable
// order if reproducible files matter to the caller.
func Write(path string, results []types.AnalysisResult) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName(f.GetSheetName(0), callsSheet)
	if _, err := f.NewSheet(momentsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	callHeader := []interface{}{"Call ID", "Duration (s)", "Outcome", "Objections Handled", "Buying Signals", "Sentiment Trend", "Moments", "Action Items"}
	if err := f.SetSheetRow(callsSheet, "A1", &callHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	momentHeader := []interface{}{"Call ID", "Moment ID", "Category", "Start (s)", "End (s)", "Confidence", "Evidence", "Coaching Note"}
	if err := f.SetSheetRow(momentsSheet, "A1", &momentHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	callRow, momentRow := 2, 2
	for _, res := range results {
		row := []interface{}{
			res.CallID,
			res.Transcript.Duration(),
			res.Summary.Outcome,
			res.Summary.ObjectionsHandled,
			res.Summary.BuyingSignals,
			res.Summary.SentimentTrend,
			len(res.Moments),
			strings.Join(res.Summary.ActionItems, "; "),
		}
		if err := f.SetSheetRow(callsSheet, fmt.Sprintf("A%d", callRow), &row); err != nil {
			return fmt.Errorf("write call row: %w", err)
		}
		callRow++

		for _, m := range res.Moments {
			row := []interface{}{
				res.CallID, m.ID, string(m.Category), m.Start, m.End, m.Confidence, m.Evidence, m.CoachingNote,
			}
			if err := f.SetSheetRow(momentsSheet, fmt.Sprintf("A%d", momentRow), &row); err != nil {
				return fmt.Errorf("write moment row: %w", err)
			}
			momentRow++
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
