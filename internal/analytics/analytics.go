package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// TaskStat summarizes requests per classified task.
type TaskStat struct {
	Task       string         `json:"task"`
	Total      int            `json:"total"`
	OK         int            `json:"ok"`
	Failed     int            `json:"failed"`
	SuccessPct float64        `json:"success_pct"`
	AvgSeconds float64        `json:"avg_seconds"`
	Warnings   int            `json:"warnings"`
	Reasons    map[string]int `json:"reasons,omitempty"`
}

// QueryTaskStats returns request counts, success rate, mean duration and
// failure reasons per task. since filters on the request timestamp.
func QueryTaskStats(database DB, since string) ([]TaskStat, error) {
	query := `SELECT task, ok, COALESCE(reason, ''), warnings, duration_ms FROM request_events`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]*TaskStat)
	durations := make(map[string][]float64)
	for rows.Next() {
		var task, reason string
		var ok bool
		var warnings, ms int
		if err := rows.Scan(&task, &ok, &reason, &warnings, &ms); err != nil {
			return nil, fmt.Errorf("scan task stat: %w", err)
		}
		s, exists := stats[task]
		if !exists {
			s = &TaskStat{Task: task, Reasons: make(map[string]int)}
			stats[task] = s
		}
		s.Total++
		s.Warnings += warnings
		if ok {
			s.OK++
		} else {
			s.Failed++
			if reason != "" {
				s.Reasons[reason]++
			}
		}
		durations[task] = append(durations[task], float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]TaskStat, 0, len(stats))
	for task, s := range stats {
		s.SuccessPct = pct(s.OK, s.Total)
		s.AvgSeconds = avg(durations[task])
		if len(s.Reasons) == 0 {
			s.Reasons = nil
		}
		results = append(results, *s)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Total != results[j].Total {
			return results[i].Total > results[j].Total
		}
		return results[i].Task < results[j].Task
	})
	return results, nil
}

// StageFailure summarizes how often a workflow stage fails.
type StageFailure struct {
	Workflow     string  `json:"workflow"`
	Stage        string  `json:"stage"`
	Mode         string  `json:"mode"`
	Total        int     `json:"total"`
	Failed       int     `json:"failed"`
	FailurePct   float64 `json:"failure_pct"`
	TopErrorKind string  `json:"top_error_kind,omitempty"`
}

// QueryStageFailures returns failure rates for every stage that failed at
// least once, worst first.
func QueryStageFailures(database DB, since string) ([]StageFailure, error) {
	query := `
		SELECT workflow, stage, mode,
			COUNT(*) as total,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) as failed
		FROM stage_events`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY workflow, stage, mode HAVING failed > 0`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage failures: %w", err)
	}
	defer rows.Close()

	var results []StageFailure
	for rows.Next() {
		var f StageFailure
		if err := rows.Scan(&f.Workflow, &f.Stage, &f.Mode, &f.Total, &f.Failed); err != nil {
			return nil, fmt.Errorf("scan stage failure: %w", err)
		}
		f.FailurePct = pct(f.Failed, f.Total)
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		kind, err := topErrorKind(database, results[i].Workflow, results[i].Stage, since)
		if err != nil {
			return nil, err
		}
		results[i].TopErrorKind = kind
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FailurePct != results[j].FailurePct {
			return results[i].FailurePct > results[j].FailurePct
		}
		if results[i].Workflow != results[j].Workflow {
			return results[i].Workflow < results[j].Workflow
		}
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

func topErrorKind(database DB, workflow, stage, since string) (string, error) {
	query := `
		SELECT COALESCE(error_kind, '') as kind, COUNT(*) as n
		FROM stage_events
		WHERE workflow = ? AND stage = ? AND status = 'failed'`
	args := []interface{}{workflow, stage}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY kind ORDER BY n DESC, kind LIMIT 1`

	var kind string
	var n int
	err := database.Conn().QueryRow(query, args...).Scan(&kind, &n)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query top error kind: %w", err)
	}
	return kind, nil
}

// StageDuration holds duration stats for a stage, in seconds.
type StageDuration struct {
	Workflow string  `json:"workflow"`
	Stage    string  `json:"stage"`
	Count    int     `json:"count"`
	Avg      float64 `json:"avg_seconds"`
	P50      float64 `json:"p50_seconds"`
	P95      float64 `json:"p95_seconds"`
}

// QueryStageDurations returns average and percentile durations of stages
// that ran (skipped stages are excluded).
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `SELECT workflow, stage, duration_ms FROM stage_events WHERE status != 'skipped'`
	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	type key struct{ workflow, stage string }
	stageDurations := make(map[key][]float64)
	for rows.Next() {
		var k key
		var ms int
		if err := rows.Scan(&k.workflow, &k.stage, &ms); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		stageDurations[k] = append(stageDurations[k], float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for k, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Workflow: k.workflow,
			Stage:    k.stage,
			Count:    len(durations),
			Avg:      avg(durations),
			P50:      percentile(durations, 50),
			P95:      percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Workflow != results[j].Workflow {
			return results[i].Workflow < results[j].Workflow
		}
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
