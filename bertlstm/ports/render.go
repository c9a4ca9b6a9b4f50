package ports

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/evaluation"
	"github.com/ZanzyTHEbar/bert-bilstm/bertlstm/training"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func f4(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

// RenderReport lays out a test report as a per-class table followed by the
// aggregate values.
func RenderReport(r *evaluation.Report) string {
	classes := newTable("class", "recall", "precision", "f1")
	for c := range r.Recall {
		classes.Row(strconv.Itoa(c), f4(r.Recall[c]), f4(r.Precision[c]), f4(r.F1[c]))
	}
	classes.Row("avg", f4(r.AvgRecall), f4(r.AvgPrecision), f4(r.AvgF1))

	summary := newTable("metric", "value").
		Row("samples", strconv.Itoa(r.Samples)).
		Row("batches", strconv.Itoa(r.Batches)).
		Row(evaluation.MetricLoss, f4(r.Loss)).
		Row(evaluation.MetricAccuracy, f4(r.Accuracy))

	return lipgloss.JoinVertical(lipgloss.Left, summary.String(), classes.String())
}

// RenderResult lays out the per-epoch history of a training run.
func RenderResult(r *training.Result) string {
	t := newTable("epoch", "train_loss", "val_loss", "skipped", "duration")
	for _, e := range r.History {
		val := "-"
		if e.Validated {
			val = f4(e.ValLoss)
		}
		t.Row(strconv.Itoa(e.Epoch), f4(e.TrainLoss), val, strconv.Itoa(e.Skipped), e.Duration.Round(time.Millisecond).String())
	}
	best := "none"
	if r.BestCheckpoint != "" {
		best = fmt.Sprintf("%s (val_loss %s)", r.BestCheckpoint, f4(r.BestLoss))
	}
	footer := fmt.Sprintf("run %s: %d epochs, %d steps, best %s", r.RunID, r.Epochs, r.Steps, best)
	if r.StoppedEarly {
		footer += ", stopped early"
	}
	return lipgloss.JoinVertical(lipgloss.Left, t.String(), footer)
}
