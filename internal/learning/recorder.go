// Package learning records model performance per run and aggregates it by
// (model, task type) so the planner can favor models that have worked. The
// store is SQLite; records are immutable once written.
package learning

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// DBFileName is the learning database under the user config root.
const DBFileName = "learning.db"

// DefaultMinRuns is the minimum aggregate size before GetBestModel trusts an
// entry.
const DefaultMinRuns = 3

// Recorder owns the learning store. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	db   *sql.DB
	bus  *bus.Bus
	best map[string]string // task type -> "provider:modelId" last announced
}

// NewRecorder opens (or creates) the learning database at dbPath. Use
// ":memory:" for tests. The event bus may be nil.
func NewRecorder(dbPath string, eventBus *bus.Bus) (*Recorder, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create learning directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open learning database: %w", err)
	}

	// busy_timeout first so later statements wait on locks instead of
	// failing during concurrent initialization.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure learning database: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize learning schema: %w", err)
	}

	return &Recorder{db: db, bus: eventBus, best: make(map[string]string)}, nil
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// RecordRun scores and appends one performance record, then emits
// learning-recorded and, when the best model for the record's task type
// changed, recommendation-updated.
func (r *Recorder) RecordRun(record models.ModelPerformanceRecord) error {
	efficiency := EfficiencyScore(record.ACPassRate, record.CostUSD)
	speed := SpeedScore(record.DurationMinutes)
	reliability := ReliabilityScore(record.ACPassRate, record.Success, record.RetryCount)

	r.mu.Lock()
	if r.db == nil {
		r.mu.Unlock()
		return fmt.Errorf("record run: recorder is closed")
	}
	_, err := r.db.Exec(`
		INSERT INTO performance_records (
			project, story_id, story_title, task_type, complexity,
			provider, model_id, duration_minutes, input_tokens,
			output_tokens, total_tokens, cost_usd, success, retry_count,
			ac_total, ac_passed, ac_pass_rate,
			efficiency_score, speed_score, reliability_score, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Project, record.StoryID, record.StoryTitle, record.TaskType,
		record.Complexity, record.Provider, record.ModelID,
		record.DurationMinutes, record.InputTokens, record.OutputTokens,
		record.TotalTokens, record.CostUSD, record.Success, record.RetryCount,
		record.ACTotal, record.ACPassed, record.ACPassRate,
		efficiency, speed, reliability, record.Timestamp.UTC(),
	)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("insert performance record: %w", err)
	}

	if r.bus != nil {
		r.bus.Emit(bus.LearningRecorded{Record: record})
	}
	r.announceBestChange(record.TaskType)
	return nil
}

// announceBestChange emits recommendation-updated when the best model for a
// task type differs from the last announced one.
func (r *Recorder) announceBestChange(taskType string) {
	if r.bus == nil {
		return
	}

	best, err := r.GetBestModel(taskType, DefaultMinRuns)
	if err != nil || best == nil {
		return
	}

	key := best.Provider + ":" + best.ModelID
	r.mu.Lock()
	changed := r.best[taskType] != key
	r.best[taskType] = key
	r.mu.Unlock()

	if changed {
		r.bus.Emit(bus.RecommendationUpdated{
			TaskType: taskType,
			ModelID:  best.ModelID,
			Provider: best.Provider,
		})
	}
}

const aggregateColumns = `
	provider, model_id, task_type,
	COUNT(*) AS total_runs,
	SUM(success) AS successful_runs,
	AVG(duration_minutes) AS avg_duration,
	AVG(cost_usd) AS avg_cost,
	AVG(total_tokens) AS avg_tokens,
	AVG(ac_pass_rate) AS avg_ac_pass_rate,
	AVG(efficiency_score) AS avg_efficiency,
	AVG(speed_score) AS avg_speed,
	AVG(reliability_score) AS avg_reliability`

func scanAggregate(rows *sql.Rows) (*models.ModelLearning, error) {
	var agg models.ModelLearning
	var avgEfficiency, avgSpeed, avgReliability float64
	err := rows.Scan(
		&agg.Provider, &agg.ModelID, &agg.TaskType,
		&agg.TotalRuns, &agg.SuccessfulRuns,
		&agg.AvgDurationMinutes, &agg.AvgCostUSD, &agg.AvgTokens,
		&agg.AvgACPassRate,
		&avgEfficiency, &avgSpeed, &avgReliability,
	)
	if err != nil {
		return nil, err
	}

	if agg.TotalRuns > 0 {
		agg.SuccessRate = float64(agg.SuccessfulRuns) / float64(agg.TotalRuns)
	}
	agg.EfficiencyScore = avgEfficiency
	agg.SpeedScore = avgSpeed
	agg.ReliabilityScore = avgReliability
	agg.OverallScore = OverallScore(avgReliability, avgEfficiency, avgSpeed)
	return &agg, nil
}

// Aggregate returns the learning aggregate for one (provider, model, task
// type) key, or nil when no runs exist. Implements planner.LearningQuerier.
func (r *Recorder) Aggregate(provider, modelID, taskType string) *models.ModelLearning {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}

	rows, err := r.db.Query(`
		SELECT `+aggregateColumns+`
		FROM performance_records
		WHERE provider = ? AND model_id = ? AND task_type = ?
		GROUP BY provider, model_id, task_type`,
		provider, modelID, taskType)
	if err != nil {
		return nil
	}
	defer rows.Close()

	if !rows.Next() {
		return nil
	}
	agg, err := scanAggregate(rows)
	if err != nil {
		return nil
	}
	return agg
}

// Aggregates returns every (model, task type) aggregate in the store.
func (r *Recorder) Aggregates() ([]models.ModelLearning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil, fmt.Errorf("aggregates: recorder is closed")
	}

	rows, err := r.db.Query(`
		SELECT ` + aggregateColumns + `
		FROM performance_records
		GROUP BY provider, model_id, task_type
		ORDER BY task_type, provider, model_id`)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var out []models.ModelLearning
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, *agg)
	}
	return out, rows.Err()
}

// GetBestModel returns the model with the highest overall score for the task
// type among aggregates with at least minRuns runs, or nil when none
// qualifies.
func (r *Recorder) GetBestModel(taskType string, minRuns int) (*models.Recommendation, error) {
	if minRuns <= 0 {
		minRuns = DefaultMinRuns
	}

	aggregates, err := r.Aggregates()
	if err != nil {
		return nil, err
	}

	var best *models.ModelLearning
	for i := range aggregates {
		agg := &aggregates[i]
		if agg.TaskType != taskType || agg.TotalRuns < minRuns {
			continue
		}
		if best == nil || agg.OverallScore > best.OverallScore {
			best = agg
		}
	}
	if best == nil {
		return nil, nil
	}
	return &models.Recommendation{ModelID: best.ModelID, Provider: best.Provider}, nil
}

// RecordCount returns the total number of stored performance records.
func (r *Recorder) RecordCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return 0, fmt.Errorf("record count: recorder is closed")
	}

	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM performance_records`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}
