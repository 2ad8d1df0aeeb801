package state

import (
	"context"
	"sort"
	"strings"
	"time"
)

const jobKeyPrefix = "job:"

// JobRun is the bookkeeping record of a scheduled job.
type JobRun struct {
	Job          string         `json:"job"`
	LastStart    time.Time      `json:"last_start"`
	LastFinish   time.Time      `json:"last_finish"`
	LastDuration time.Duration  `json:"last_duration"`
	LastError    string         `json:"last_error,omitempty"`
	LastSuccess  time.Time      `json:"last_success,omitempty"`
	Runs         int            `json:"runs"`
	Failures     int            `json:"failures"`
	Detail       map[string]any `json:"detail,omitempty"`
}

// Succeeded reports whether the most recent run succeeded.
func (r JobRun) Succeeded() bool {
	return r.Runs > 0 && r.LastError == ""
}

// RecordRun folds one run of job into its record.
func RecordRun(ctx context.Context, kv KV, job string, start, finish time.Time, detail map[string]any, runErr error) (JobRun, error) {
	var rec JobRun
	err := kv.Update(ctx, jobKeyPrefix+job, &rec, func(bool) error {
		rec.Job = job
		rec.LastStart = start
		rec.LastFinish = finish
		rec.LastDuration = finish.Sub(start)
		rec.Runs++
		rec.Detail = detail
		if runErr != nil {
			rec.LastError = runErr.Error()
			rec.Failures++
		} else {
			rec.LastError = ""
			rec.LastSuccess = finish
		}
		return nil
	})
	return rec, err
}

// LastRun returns the record for job.
func LastRun(ctx context.Context, kv KV, job string) (JobRun, bool, error) {
	var rec JobRun
	ok, err := kv.Get(ctx, jobKeyPrefix+job, &rec)
	return rec, ok, err
}

// JobRuns returns every job record, ordered by job name.
func JobRuns(ctx context.Context, kv KV) ([]JobRun, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	var runs []JobRun
	for _, key := range keys {
		if !strings.HasPrefix(key, jobKeyPrefix) {
			continue
		}
		var rec JobRun
		if ok, err := kv.Get(ctx, key, &rec); err != nil {
			return nil, err
		} else if ok {
			runs = append(runs, rec)
		}
	}
	return runs, nil
}
