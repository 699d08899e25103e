package training

import (
	"context"
	"slices"
	"time"

	"github.com/reminator329/trainingbook/internal/entity"
)

// DefaultHistoryLimit is the number of past results kept per exercise program.
const DefaultHistoryLimit = 10

// Trend compares a value with the previous entry of the same exercise program.
type Trend string

const (
	// TrendNone marks the first entry of a program, which has nothing to compare with.
	TrendNone Trend = ""
	// TrendUp means the value is higher than in the previous entry.
	TrendUp Trend = "up"
	// TrendDown means the value is lower than in the previous entry.
	TrendDown Trend = "down"
	// TrendFlat means the value equals the previous entry.
	TrendFlat Trend = "flat"
)

// HistoryEntry is one past result with its progression.
type HistoryEntry struct {
	SessionID   entity.ID `json:"session_id"`
	Date        time.Time `json:"date"`
	Weight      float64   `json:"weight"`
	Reps        int       `json:"reps"`
	WeightTrend Trend     `json:"weight_trend,omitempty"`
	RepsTrend   Trend     `json:"reps_trend,omitempty"`
}

// History returns, per exercise program id, the last limit results the user
// recorded in sessions on the program type templateID, oldest first. The
// first entry of each list has no trend. It reads a copy of the user, so it
// is safe to call while other goroutines upsert.
func (s *Service) History(ctx context.Context, platformID string, templateID entity.ID, limit int) (map[entity.ID][]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	users, err := snapshotOf[*User](s.repo, CollectionUsers)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(users, func(u *User) bool { return u.UserID == platformID })
	if idx < 0 {
		return nil, ErrUserNotFound
	}
	user := users[idx]

	sessions := make([]*Session, 0, len(user.Sessions))
	for _, session := range user.Sessions {
		if session != nil && session.Template != nil && session.Template.ID == templateID {
			sessions = append(sessions, session)
		}
	}
	slices.SortStableFunc(sessions, func(a, b *Session) int {
		return a.Date.Compare(b.Date)
	})

	history := make(map[entity.ID][]HistoryEntry)
	for _, session := range sessions {
		for _, result := range session.Results {
			if result == nil || result.ExerciseProgram == nil {
				continue
			}
			key := result.ExerciseProgram.ID
			history[key] = append(history[key], HistoryEntry{
				SessionID: session.ID,
				Date:      session.Date,
				Weight:    result.Weight,
				Reps:      result.Reps,
			})
		}
	}

	for key, entries := range history {
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
		for i := 1; i < len(entries); i++ {
			entries[i].WeightTrend = compare(entries[i-1].Weight, entries[i].Weight)
			entries[i].RepsTrend = compare(float64(entries[i-1].Reps), float64(entries[i].Reps))
		}
		history[key] = entries
	}
	return history, nil
}

func compare(prev, next float64) Trend {
	switch {
	case next > prev:
		return TrendUp
	case next < prev:
		return TrendDown
	default:
		return TrendFlat
	}
}
