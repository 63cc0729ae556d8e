package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Model is a baseline regressor that predicts the mean training label.
type Model struct {
	Kind            string         `json:"kind"`
	Intercept       float64        `json:"intercept"`
	Features        int            `json:"features"`
	TrainingRows    int            `json:"training_rows"`
	Hyperparameters map[string]any `json:"hyperparameters,omitempty"`
	TrainedAt       time.Time      `json:"trained_at"`
}

// Fit returns the mean predictor for ds.
func Fit(ds Dataset) Model {
	var sum float64
	for _, y := range ds.Labels {
		sum += y
	}
	features := 0
	if len(ds.Features) > 0 {
		features = len(ds.Features[0])
	}
	return Model{
		Kind:         "mean",
		Intercept:    sum / float64(ds.Len()),
		Features:     features,
		TrainingRows: ds.Len(),
	}
}

// Predict returns the model's prediction for one row.
func (m Model) Predict([]float64) float64 {
	return m.Intercept
}

// MSE is the mean squared error of m over ds.
func (m Model) MSE(ds Dataset) float64 {
	var sum float64
	for i, y := range ds.Labels {
		d := m.Predict(ds.Features[i]) - y
		sum += d * d
	}
	return sum / float64(ds.Len())
}

// Save writes the model as JSON.
func (m Model) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}
