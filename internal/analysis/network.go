package analysis

import (
	"context"
	"sort"
	"strings"

	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// BipartisanBill is a bill whose cosponsors include both parties.
type BipartisanBill struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	IsLaw           bool   `json:"is_law"`
	SponsorParty    string `json:"sponsor_party"`
	DemCosponsors   int    `json:"dem_cosponsors"`
	RepCosponsors   int    `json:"rep_cosponsors"`
	TotalCosponsors int64  `json:"total_cosponsors"`
}

// Bipartisan summarises cross-party cosponsorship.
type Bipartisan struct {
	TotalAnalyzed        int              `json:"total_analyzed"`
	BipartisanCount      int              `json:"bipartisan_count"`
	BipartisanPercentage float64          `json:"bipartisan_percentage"`
	BipartisanLawRate    float64          `json:"bipartisan_law_rate"`
	OverallLawRate       float64          `json:"overall_law_rate"`
	AvgDemCosponsors     float64          `json:"avg_dem_cosponsors"`
	AvgRepCosponsors     float64          `json:"avg_rep_cosponsors"`
	Bills                []BipartisanBill `json:"bills,omitempty"`
}

// Bipartisan analyses bills with at least one cosponsor. A bill is
// bipartisan when its cosponsors include both a D and an R.
func (a *Analyzer) Bipartisan(ctx context.Context, congress int) (*Bipartisan, error) {
	bills, err := a.loadBills(ctx, congress)
	if err != nil {
		return nil, err
	}

	out := &Bipartisan{}
	laws, bipartisanLaws := 0, 0
	var dems, reps []int64
	for _, bill := range bills {
		if bill.Int("cosponsors_count") <= 0 {
			continue
		}
		out.TotalAnalyzed++
		if bill.Bool("is_law") {
			laws++
		}

		lead, ok := sponsor(bill)
		cos := cosponsors(bill)
		if !ok || len(cos) == 0 {
			continue
		}

		parties := map[string]int{}
		for _, c := range cos {
			parties[str(c, "party")]++
		}
		if parties["D"] == 0 || parties["R"] == 0 {
			continue
		}

		partyOf := str(lead, "party")
		if partyOf == "" {
			partyOf = "Unknown"
		}
		out.Bills = append(out.Bills, BipartisanBill{
			ID:              bill.Key.String(),
			Title:           bill.String("title"),
			IsLaw:           bill.Bool("is_law"),
			SponsorParty:    partyOf,
			DemCosponsors:   parties["D"],
			RepCosponsors:   parties["R"],
			TotalCosponsors: bill.Int("cosponsors_count"),
		})
		if bill.Bool("is_law") {
			bipartisanLaws++
		}
		dems = append(dems, int64(parties["D"]))
		reps = append(reps, int64(parties["R"]))
	}
	if out.TotalAnalyzed == 0 {
		return nil, ErrNoData
	}

	out.BipartisanCount = len(out.Bills)
	out.OverallLawRate = percent(laws, out.TotalAnalyzed)
	if out.BipartisanCount > 0 {
		out.BipartisanPercentage = percent(out.BipartisanCount, out.TotalAnalyzed)
		out.BipartisanLawRate = percent(bipartisanLaws, out.BipartisanCount)
		out.AvgDemCosponsors = mean(dems)
		out.AvgRepCosponsors = mean(reps)
	}
	return out, nil
}

// MemberActivity counts the bills a member sponsored or cosponsored.
type MemberActivity struct {
	BioguideID string `json:"bioguide_id"`
	Bills      int    `json:"bills"`
}

// Network describes the sponsor -> cosponsor graph.
type Network struct {
	TotalMembers        int              `json:"total_members"`
	TotalEdges          int              `json:"total_edges"`
	UniqueRelationships int              `json:"unique_relationships"`
	AvgBillsPerMember   float64          `json:"avg_bills_per_member"`
	Density             float64          `json:"density"`
	MostActiveMembers   []MemberActivity `json:"most_active_members"`
}

// DefaultMinCosponsors is the cosponsor threshold of CosponsorNetwork.
const DefaultMinCosponsors = 5

// CosponsorNetwork builds sponsor -> cosponsor edges from bills with at
// least minCosponsors cosponsors.
func (a *Analyzer) CosponsorNetwork(ctx context.Context, congress, minCosponsors int) (*Network, error) {
	bills, err := a.loadBills(ctx, congress)
	if err != nil {
		return nil, err
	}

	type edge struct{ from, to string }
	edges := 0
	unique := map[edge]struct{}{}
	activity := map[string]int{}
	for _, bill := range bills {
		if bill.Int("cosponsors_count") < int64(minCosponsors) {
			continue
		}
		lead, ok := sponsor(bill)
		if !ok {
			continue
		}
		from := str(lead, "bioguideId")
		if from == "" {
			continue
		}
		activity[from]++

		for _, c := range cosponsors(bill) {
			to := str(c, "bioguideId")
			if to == "" {
				continue
			}
			edges++
			unique[edge{from, to}] = struct{}{}
			activity[to]++
		}
	}
	if len(activity) == 0 {
		return nil, ErrNoData
	}

	n := len(activity)
	out := &Network{
		TotalMembers:        n,
		TotalEdges:          edges,
		UniqueRelationships: len(unique),
	}
	total := 0
	for id, count := range activity {
		total += count
		out.MostActiveMembers = append(out.MostActiveMembers, MemberActivity{BioguideID: id, Bills: count})
	}
	out.AvgBillsPerMember = float64(total) / float64(n)
	if n > 1 {
		out.Density = float64(len(unique)) / (float64(n) * float64(n-1) / 2)
	}

	sort.Slice(out.MostActiveMembers, func(i, j int) bool {
		mi, mj := out.MostActiveMembers[i], out.MostActiveMembers[j]
		if mi.Bills != mj.Bills {
			return mi.Bills > mj.Bills
		}
		return mi.BioguideID < mj.BioguideID
	})
	if len(out.MostActiveMembers) > 10 {
		out.MostActiveMembers = out.MostActiveMembers[:10]
	}
	return out, nil
}

// CommitteeStats is the record of one committee over a congress.
type CommitteeStats struct {
	SystemCode    string  `json:"system_code"`
	Name          string  `json:"name"`
	Chamber       string  `json:"chamber"`
	BillsReferred int     `json:"bills_referred"`
	LawsEnacted   int     `json:"laws_enacted"`
	AvgCosponsors float64 `json:"avg_cosponsors"`
	SuccessRate   float64 `json:"success_rate"`
}

// CommitteeEffectiveness counts, per committee, the bills referred to it
// and how many became law. Committees are found by system code in each
// bill's committees blob; names come from the committees collection when
// it has been ingested.
func (a *Analyzer) CommitteeEffectiveness(ctx context.Context, congress int) ([]CommitteeStats, error) {
	bills, err := a.loadBills(ctx, congress)
	if err != nil {
		return nil, err
	}

	known, err := a.load(ctx, models.Query{EntityType: models.EntityCommittees})
	if err != nil {
		return nil, err
	}
	names := make(map[string]*models.Record, len(known))
	for _, c := range known {
		names[strings.ToLower(c.String("system_code"))] = c
	}

	type agg struct {
		stats  CommitteeStats
		counts []int64
	}
	committees := map[string]*agg{}
	for _, bill := range bills {
		for code, ref := range committeeRefs(bill) {
			g, ok := committees[code]
			if !ok {
				g = &agg{stats: CommitteeStats{SystemCode: code, Name: str(ref, "name"), Chamber: str(ref, "chamber")}}
				if rec, ok := names[code]; ok {
					g.stats.Name = rec.String("name")
					g.stats.Chamber = rec.String("chamber")
				}
				committees[code] = g
			}
			g.stats.BillsReferred++
			if bill.Bool("is_law") {
				g.stats.LawsEnacted++
			}
			g.counts = append(g.counts, bill.Int("cosponsors_count"))
		}
	}
	if len(committees) == 0 {
		return nil, ErrNoData
	}

	out := make([]CommitteeStats, 0, len(committees))
	for _, g := range committees {
		g.stats.AvgCosponsors = mean(g.counts)
		g.stats.SuccessRate = percent(g.stats.LawsEnacted, g.stats.BillsReferred)
		out = append(out, g.stats)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BillsReferred != out[j].BillsReferred {
			return out[i].BillsReferred > out[j].BillsReferred
		}
		return out[i].SystemCode < out[j].SystemCode
	})
	return out, nil
}

// committeeRefs returns the committee objects referenced by a bill, keyed
// by lower-cased system code, searching the committees column and falling
// back to the raw payload.
func committeeRefs(bill *models.Record) map[string]value.Object {
	refs := map[string]value.Object{}
	var walk func(v value.Value)
	walk = func(v value.Value) {
		switch node := v.(type) {
		case value.Object:
			if code, ok := node.LookupString("systemCode"); ok && code != "" {
				refs[strings.ToLower(code)] = node
			}
			for _, child := range node {
				walk(child)
			}
		case value.Array:
			for _, child := range node {
				walk(child)
			}
		}
	}

	if blob := bill.JSON("committees"); blob != nil {
		walk(blob)
	} else if v, ok := bill.Raw.Lookup("committees"); ok {
		walk(v)
	}
	return refs
}
