package ingestion

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/opendiscourse/congress-data-service/internal/models"
)

// apiTimeLayout is the format of fromDateTime/toDateTime.
const apiTimeLayout = "2006-01-02T15:04:05Z"

var committeeChambers = []string{"house", "senate"}

// collectionPaths returns the list endpoints to walk for an entity type
// under the given filters.
func collectionPaths(entity models.EntityType, f models.Filters) ([]string, error) {
	c := f.Congress
	sub := strings.ToLower(f.SubType)

	switch entity {
	case models.EntityBills:
		return []string{join("bill", c, sub)}, nil
	case models.EntityMembers:
		if c > 0 {
			return []string{fmt.Sprintf("member/congress/%d", c)}, nil
		}
		return []string{"member"}, nil
	case models.EntityAmendments:
		return []string{join("amendment", c, sub)}, nil
	case models.EntityCommittees:
		chambers := committeeChambers
		if sub != "" {
			chambers = []string{sub}
		}
		paths := make([]string, len(chambers))
		for i, chamber := range chambers {
			if c > 0 {
				paths[i] = fmt.Sprintf("committee/%d/%s", c, chamber)
			} else {
				paths[i] = "committee/" + chamber
			}
		}
		return paths, nil
	case models.EntityNominations:
		return []string{join("nomination", c, "")}, nil
	case models.EntityTreaties:
		return []string{join("treaty", c, "")}, nil
	case models.EntityReports:
		return []string{join("committee-report", c, sub)}, nil
	case models.EntityHearings:
		return []string{join("hearing", c, sub)}, nil
	case models.EntityRecords:
		return []string{"congressional-record"}, nil
	}
	return nil, fmt.Errorf("no endpoint for entity type %q", entity)
}

func join(base string, congress int, sub string) string {
	if congress <= 0 {
		return base
	}
	if sub == "" {
		return fmt.Sprintf("%s/%d", base, congress)
	}
	return fmt.Sprintf("%s/%d/%s", base, congress, sub)
}

// filterParams renders date filters as API query parameters.
func filterParams(f models.Filters) url.Values {
	params := url.Values{}
	if f.FromDate != nil {
		params.Set("fromDateTime", f.FromDate.UTC().Format(apiTimeLayout))
	}
	if f.ToDate != nil {
		params.Set("toDateTime", f.ToDate.UTC().Format(apiTimeLayout))
	}
	return params
}

// detailPath returns the single-resource endpoint for a natural key and the
// response key holding the resource.
func detailPath(entity models.EntityType, key models.NaturalKey) (path, responseKey string, err error) {
	part := func(i int) string {
		if i < len(key) {
			return key[i]
		}
		return ""
	}

	switch entity {
	case models.EntityBills:
		return fmt.Sprintf("bill/%s/%s/%s", part(0), part(1), part(2)), "bill", nil
	case models.EntityMembers:
		return "member/" + part(0), "member", nil
	case models.EntityAmendments:
		return fmt.Sprintf("amendment/%s/%s/%s", part(0), part(1), part(2)), "amendment", nil
	case models.EntityCommittees:
		chamber, ok := chamberFromSystemCode(part(0))
		if !ok {
			return "", "", fmt.Errorf("cannot derive chamber from committee code %q", part(0))
		}
		return fmt.Sprintf("committee/%s/%s", chamber, part(0)), "committee", nil
	case models.EntityNominations:
		return fmt.Sprintf("nomination/%s/%s", part(0), part(1)), "nomination", nil
	case models.EntityTreaties:
		if s := part(2); s != "" {
			return fmt.Sprintf("treaty/%s/%s/%s", part(0), part(1), s), "treaty", nil
		}
		return fmt.Sprintf("treaty/%s/%s", part(0), part(1)), "treaty", nil
	case models.EntityReports:
		return fmt.Sprintf("committee-report/%s/%s/%s", part(0), part(1), part(2)), "committeeReports.0", nil
	case models.EntityHearings:
		return fmt.Sprintf("hearing/%s/%s/%s", part(0), part(1), part(2)), "hearing", nil
	}
	return "", "", fmt.Errorf("single-record ingestion is not supported for %s", entity)
}

func chamberFromSystemCode(code string) (string, bool) {
	switch strings.ToLower(code)[:min(1, len(code))] {
	case "h":
		return "house", true
	case "s":
		return "senate", true
	case "j":
		return "joint", true
	}
	return "", false
}

// IncrementalWindow returns the [now-days, now] window used by incremental
// syncs.
func IncrementalWindow(now time.Time, days int) (from, to time.Time) {
	to = now.UTC()
	from = to.AddDate(0, 0, -days)
	return from, to
}
