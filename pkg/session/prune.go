package session

import (
	"context"
	"sort"
	"time"
)

// PruneConfig bounds how many tracked sessions the state file keeps.
type PruneConfig struct {
	MaxSessions   int
	MaxSessionAge time.Duration
}

// DefaultPruneConfig returns default pruning configuration.
func DefaultPruneConfig() PruneConfig {
	return PruneConfig{
		MaxSessions:   1000,
		MaxSessionAge: 30 * 24 * time.Hour,
	}
}

// PruneStats contains pruning statistics.
type PruneStats struct {
	SessionsPruned int
	MessagesPruned int
}

// Prune drops sessions idle longer than MaxSessionAge, then the least
// recently active sessions beyond MaxSessions.
func (st *State) Prune(cfg PruneConfig, now time.Time) PruneStats {
	var stats PruneStats
	remove := func(key string) {
		stats.SessionsPruned++
		stats.MessagesPruned += len(st.Sessions[key].Messages)
		delete(st.Sessions, key)
	}

	if cfg.MaxSessionAge > 0 {
		cutoff := now.Add(-cfg.MaxSessionAge)
		for key, s := range st.Sessions {
			if s == nil || s.LastActivity.Before(cutoff) {
				if s == nil {
					delete(st.Sessions, key)
					continue
				}
				remove(key)
			}
		}
	}

	if cfg.MaxSessions > 0 && len(st.Sessions) > cfg.MaxSessions {
		keys := make([]string, 0, len(st.Sessions))
		for key := range st.Sessions {
			keys = append(keys, key)
		}
		// Oldest first; key order breaks ties.
		sort.Slice(keys, func(i, j int) bool {
			a, b := st.Sessions[keys[i]].LastActivity, st.Sessions[keys[j]].LastActivity
			if a.Equal(b) {
				return keys[i] < keys[j]
			}
			return a.Before(b)
		})
		for _, key := range keys[:len(keys)-cfg.MaxSessions] {
			remove(key)
		}
	}

	return stats
}

// Prune applies cfg to the persisted state.
func (m *Manager) Prune(ctx context.Context, cfg PruneConfig) (PruneStats, error) {
	var stats PruneStats
	err := m.Update(ctx, func(st *State) error {
		stats = st.Prune(cfg, time.Now())
		if stats.SessionsPruned == 0 {
			return ErrUnchanged
		}
		return nil
	})
	return stats, err
}
