package analysis

import (
	"context"
	"sort"
	"time"

	"github.com/opendiscourse/congress-data-service/internal/models"
)

// maxSessionCongresses bounds an unfiltered session report to the most
// recent congresses.
const maxSessionCongresses = 10

// SessionStatistics summarises the Congressional Record issues of one
// session.
type SessionStatistics struct {
	Congress       int        `json:"congress"`
	Session        int        `json:"session"`
	Issues         int        `json:"issues"`
	Volumes        []int64    `json:"volumes"`
	FirstPublished *time.Time `json:"first_published,omitempty"`
	LastPublished  *time.Time `json:"last_published,omitempty"`
}

type sessionKey struct {
	congress, session int
}

// SessionStatistics groups Congressional Record issues by congress and
// session, newest congress first. With congress 0 only the ten most
// recent congresses are reported.
func (a *Analyzer) SessionStatistics(ctx context.Context, congress int) ([]*SessionStatistics, error) {
	issues, err := a.load(ctx, models.Query{EntityType: models.EntityRecords, Congress: congress})
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, ErrNoData
	}

	groups := map[sessionKey]*SessionStatistics{}
	volumes := map[sessionKey]map[int64]bool{}
	for _, issue := range issues {
		k := sessionKey{congress: int(issue.Int("congress")), session: int(issue.Int("session"))}
		s, ok := groups[k]
		if !ok {
			s = &SessionStatistics{Congress: k.congress, Session: k.session, Volumes: []int64{}}
			groups[k] = s
			volumes[k] = map[int64]bool{}
		}
		s.Issues++

		if v := issue.Int("volume_number"); v > 0 && !volumes[k][v] {
			volumes[k][v] = true
			s.Volumes = append(s.Volumes, v)
		}
		if published, ok := issue.Time("publication_date"); ok {
			if s.FirstPublished == nil || published.Before(*s.FirstPublished) {
				s.FirstPublished = &published
			}
			if s.LastPublished == nil || published.After(*s.LastPublished) {
				s.LastPublished = &published
			}
		}
	}

	out := make([]*SessionStatistics, 0, len(groups))
	for _, s := range groups {
		sort.Slice(s.Volumes, func(i, j int) bool { return s.Volumes[i] < s.Volumes[j] })
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Congress != out[j].Congress {
			return out[i].Congress > out[j].Congress
		}
		return out[i].Session < out[j].Session
	})

	if congress == 0 {
		out = recentCongresses(out, maxSessionCongresses)
	}
	return out, nil
}

// recentCongresses keeps the sessions of the first n distinct congresses
// of a list sorted newest first.
func recentCongresses(sessions []*SessionStatistics, n int) []*SessionStatistics {
	distinct := 0
	for i, s := range sessions {
		if i == 0 || s.Congress != sessions[i-1].Congress {
			distinct++
			if distinct > n {
				return sessions[:i]
			}
		}
	}
	return sessions
}
