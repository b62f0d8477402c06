package analysis

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/opendiscourse/congress-data-service/internal/models"
)

// MemberStatistics summarises one member's sponsorship record.
type MemberStatistics struct {
	BioguideID       string  `json:"bioguide_id"`
	Name             string  `json:"name,omitempty"`
	Party            string  `json:"party,omitempty"`
	State            string  `json:"state,omitempty"`
	BillsSponsored   int     `json:"bills_sponsored"`
	BillsCosponsored int     `json:"bills_cosponsored"`
	LawsSponsored    int     `json:"laws_sponsored"`
	SponsoredLawRate float64 `json:"sponsored_law_rate"`
	Congresses       []int   `json:"congresses"`
}

// MemberStatistics counts the bills a member sponsored and cosponsored in
// congress (0 for all congresses). ErrNoData is returned when the member
// is neither stored nor named on any bill.
func (a *Analyzer) MemberStatistics(ctx context.Context, bioguideID string, congress int) (*MemberStatistics, error) {
	id := strings.ToUpper(strings.TrimSpace(bioguideID))
	if id == "" {
		return nil, errors.New("bioguide id is required")
	}

	stats := &MemberStatistics{BioguideID: id, Congresses: []int{}}
	known := false

	rec, err := a.store.GetRecord(ctx, models.EntityMembers, models.NaturalKey{id})
	if err != nil {
		return nil, err
	}
	if rec != nil {
		known = true
		stats.Name = rec.String("name")
		stats.Party = rec.String("party")
		stats.State = rec.String("state")
	}

	bills, err := a.loadBills(ctx, congress)
	if err != nil {
		return nil, err
	}

	seen := map[int]bool{}
	for _, bill := range bills {
		named := false
		if lead, ok := sponsor(bill); ok && strings.EqualFold(str(lead, "bioguideId"), id) {
			named = true
			stats.BillsSponsored++
			if bill.Bool("is_law") {
				stats.LawsSponsored++
			}
			if stats.Party == "" {
				stats.Party = str(lead, "party")
			}
			if stats.State == "" {
				stats.State = str(lead, "state")
			}
		}
		for _, c := range cosponsors(bill) {
			if strings.EqualFold(str(c, "bioguideId"), id) {
				named = true
				stats.BillsCosponsored++
				break
			}
		}
		if named {
			seen[int(bill.Int("congress"))] = true
		}
	}

	if !known && len(seen) == 0 {
		return nil, ErrNoData
	}
	for c := range seen {
		stats.Congresses = append(stats.Congresses, c)
	}
	sort.Ints(stats.Congresses)
	if stats.BillsSponsored > 0 {
		stats.SponsoredLawRate = float64(stats.LawsSponsored) / float64(stats.BillsSponsored)
	}
	return stats, nil
}
