package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// BillStatistics summarises the bills of one congress.
type BillStatistics struct {
	Congress       int            `json:"congress,omitempty"`
	TotalBills     int            `json:"total_bills"`
	LawsEnacted    int            `json:"laws_enacted"`
	LawPassageRate float64        `json:"law_passage_rate"`
	ByChamber      map[string]int `json:"by_chamber"`
	ByType         map[string]int `json:"by_type"`
	Cosponsors     Distribution   `json:"cosponsors_stats"`
}

// BillStatistics computes totals, law passage and cosponsor distribution
// for congress (0 for all congresses).
func (a *Analyzer) BillStatistics(ctx context.Context, congress int) (*BillStatistics, error) {
	bills, err := a.loadBills(ctx, congress)
	if err != nil {
		return nil, err
	}
	if len(bills) == 0 {
		return nil, ErrNoData
	}

	stats := &BillStatistics{
		Congress:   congress,
		TotalBills: len(bills),
		ByChamber:  map[string]int{},
		ByType:     map[string]int{},
	}
	counts := make([]int64, len(bills))
	for i, bill := range bills {
		if bill.Bool("is_law") {
			stats.LawsEnacted++
		}
		if chamber := bill.String("origin_chamber"); chamber != "" {
			stats.ByChamber[chamber]++
		}
		stats.ByType[bill.String("bill_type")]++
		counts[i] = bill.Int("cosponsors_count")
	}
	stats.LawPassageRate = float64(stats.LawsEnacted) / float64(stats.TotalBills)
	stats.Cosponsors = describe(counts)
	return stats, nil
}

// CompareCongresses returns BillStatistics for each congress in order.
// Congresses without bills are skipped; ErrNoData is returned when none
// have any.
func (a *Analyzer) CompareCongresses(ctx context.Context, congresses []int) ([]*BillStatistics, error) {
	var out []*BillStatistics
	for _, c := range congresses {
		stats, err := a.BillStatistics(ctx, c)
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("congress %d: %w", c, err)
		}
		out = append(out, stats)
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

// Grouping is the bucket size of a temporal analysis.
type Grouping string

const (
	GroupDay     Grouping = "day"
	GroupWeek    Grouping = "week"
	GroupMonth   Grouping = "month"
	GroupQuarter Grouping = "quarter"
)

// ParseGrouping validates a grouping name; "" means month.
func ParseGrouping(s string) (Grouping, error) {
	switch g := Grouping(s); g {
	case "":
		return GroupMonth, nil
	case GroupDay, GroupWeek, GroupMonth, GroupQuarter:
		return g, nil
	}
	return "", fmt.Errorf("unknown grouping %q: want day, week, month or quarter", s)
}

// periodStart returns the first day of the bucket containing t. Weeks
// start on Monday.
func (g Grouping) periodStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case GroupDay:
		return day
	case GroupWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GroupQuarter:
		month := time.Month((int(t.Month())-1)/3*3 + 1)
		return time.Date(t.Year(), month, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// Period is one bucket of a temporal analysis.
type Period struct {
	Start            time.Time `json:"period"`
	TotalBills       int       `json:"total_bills"`
	LawsEnacted      int       `json:"laws_enacted"`
	AvgCosponsors    float64   `json:"avg_cosponsors"`
	MedianCosponsors float64   `json:"median_cosponsors"`
	TotalCosponsors  int64     `json:"total_cosponsors"`
}

// Temporal buckets bills by introduction date. Bills without an
// introduction date are left out.
func (a *Analyzer) Temporal(ctx context.Context, congress int, grouping Grouping) ([]Period, error) {
	bills, err := a.loadBills(ctx, congress)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		laws   int
		counts []int64
	}
	buckets := map[time.Time]*bucket{}
	for _, bill := range bills {
		introduced, ok := bill.Time("introduced_date")
		if !ok {
			continue
		}
		start := grouping.periodStart(introduced)
		b, ok := buckets[start]
		if !ok {
			b = &bucket{}
			buckets[start] = b
		}
		if bill.Bool("is_law") {
			b.laws++
		}
		b.counts = append(b.counts, bill.Int("cosponsors_count"))
	}
	if len(buckets) == 0 {
		return nil, ErrNoData
	}

	periods := make([]Period, 0, len(buckets))
	for start, b := range buckets {
		periods = append(periods, Period{
			Start:            start,
			TotalBills:       len(b.counts),
			LawsEnacted:      b.laws,
			AvgCosponsors:    mean(b.counts),
			MedianCosponsors: median(b.counts),
			TotalCosponsors:  sum(b.counts),
		})
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Start.Before(periods[j].Start) })
	return periods, nil
}

// PolicyArea aggregates the bills of one policy area.
type PolicyArea struct {
	Name            string  `json:"policy_area"`
	TotalBills      int     `json:"total_bills"`
	LawsEnacted     int     `json:"laws_enacted"`
	AvgCosponsors   float64 `json:"avg_cosponsors"`
	TotalCosponsors int64   `json:"total_cosponsors"`
}

// PolicyAreas groups bills by policy area, largest first. Bills without a
// policy area are left out.
func (a *Analyzer) PolicyAreas(ctx context.Context, congress int) ([]PolicyArea, error) {
	bills, err := a.loadBills(ctx, congress)
	if err != nil {
		return nil, err
	}

	type agg struct {
		laws   int
		counts []int64
	}
	areas := map[string]*agg{}
	for _, bill := range bills {
		area := policyAreaName(bill)
		if area == "" {
			continue
		}
		g, ok := areas[area]
		if !ok {
			g = &agg{}
			areas[area] = g
		}
		if bill.Bool("is_law") {
			g.laws++
		}
		g.counts = append(g.counts, bill.Int("cosponsors_count"))
	}
	if len(areas) == 0 {
		return nil, ErrNoData
	}

	out := make([]PolicyArea, 0, len(areas))
	for name, g := range areas {
		out = append(out, PolicyArea{
			Name:            name,
			TotalBills:      len(g.counts),
			LawsEnacted:     g.laws,
			AvgCosponsors:   mean(g.counts),
			TotalCosponsors: sum(g.counts),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalBills != out[j].TotalBills {
			return out[i].TotalBills > out[j].TotalBills
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// policyAreaName returns "" for bills without a policy area object.
func policyAreaName(bill *models.Record) string {
	area, ok := bill.JSON("policy_area").(value.Object)
	if !ok {
		return ""
	}
	if name := str(area, "name"); name != "" {
		return name
	}
	return "Unknown"
}

// SuccessFactors relates bill features to becoming law.
type SuccessFactors struct {
	// CosponsorCorrelation is the Pearson correlation of cosponsor count
	// with law status; nil when undefined.
	CosponsorCorrelation *float64           `json:"cosponsors_count"`
	ChamberSuccessRates  map[string]float64 `json:"chamber_success_rates"`
	TypeSuccessRates     map[string]float64 `json:"type_success_rates"`
}

// SuccessFactors computes which features correlate with enactment.
func (a *Analyzer) SuccessFactors(ctx context.Context, congress int) (*SuccessFactors, error) {
	bills, err := a.loadBills(ctx, congress)
	if err != nil {
		return nil, err
	}
	if len(bills) == 0 {
		return nil, ErrNoData
	}

	xs := make([]float64, len(bills))
	ys := make([]float64, len(bills))
	chambers := map[string][2]int{} // laws, total
	types := map[string][2]int{}
	for i, bill := range bills {
		law := 0
		if bill.Bool("is_law") {
			law = 1
		}
		xs[i] = float64(bill.Int("cosponsors_count"))
		ys[i] = float64(law)

		if chamber := bill.String("origin_chamber"); chamber != "" {
			c := chambers[chamber]
			chambers[chamber] = [2]int{c[0] + law, c[1] + 1}
		}
		t := types[bill.String("bill_type")]
		types[bill.String("bill_type")] = [2]int{t[0] + law, t[1] + 1}
	}

	out := &SuccessFactors{
		ChamberSuccessRates: rates(chambers),
		TypeSuccessRates:    rates(types),
	}
	if r, ok := pearson(xs, ys); ok {
		out.CosponsorCorrelation = &r
	}
	return out, nil
}

func rates(groups map[string][2]int) map[string]float64 {
	out := make(map[string]float64, len(groups))
	for k, g := range groups {
		out[k] = float64(g[0]) / float64(g[1])
	}
	return out
}
