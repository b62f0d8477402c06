package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opendiscourse/congress-data-service/internal/analysis"
	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/storage"
)

const (
	maxLimit          = 1000
	defaultSampleSize = 10
	defaultRunsLimit  = 20
)

// handleListRecords handles GET /records/:entity
func (s *Server) handleListRecords(c *gin.Context) {
	entity, ok := s.entity(c)
	if !ok {
		return
	}
	q, err := parseQuery(c, entity)
	if err != nil {
		badRequest(c, err)
		return
	}

	records, err := s.storage.QueryRecords(c.Request.Context(), q)
	if err != nil {
		s.storeError(c, "query records", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
		"limit":   q.EffectiveLimit(),
		"offset":  q.Offset,
	})
}

// handleSearchRecords handles GET /records/:entity/search
func (s *Server) handleSearchRecords(c *gin.Context) {
	entity, ok := s.entity(c)
	if !ok {
		return
	}
	text := c.Query("q")
	if text == "" {
		badRequest(c, errors.New("q is required"))
		return
	}
	limit, err := intParam(c, "limit", models.DefaultQueryLimit)
	if err != nil {
		badRequest(c, err)
		return
	}

	records, err := s.storage.SearchRecords(c.Request.Context(), entity, text, min(limit, maxLimit))
	if err != nil {
		s.internalError(c, "search records", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
		"query":   text,
	})
}

// handleSampleRecords handles GET /records/:entity/sample
func (s *Server) handleSampleRecords(c *gin.Context) {
	entity, ok := s.entity(c)
	if !ok {
		return
	}
	size, err := intParam(c, "size", defaultSampleSize)
	if err != nil {
		badRequest(c, err)
		return
	}
	q, err := parseQuery(c, entity)
	if err != nil {
		badRequest(c, err)
		return
	}

	records, err := s.storage.SampleRecords(c.Request.Context(), entity, min(size, maxLimit), q)
	if err != nil {
		s.storeError(c, "sample records", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// handleGetRecord handles GET /records/:entity/:key
func (s *Server) handleGetRecord(c *gin.Context) {
	entity, ok := s.entity(c)
	if !ok {
		return
	}
	key, err := models.ParseNaturalKey(entity, c.Param("key"))
	if err != nil {
		badRequest(c, err)
		return
	}

	rec, err := s.storage.GetRecord(c.Request.Context(), entity, key)
	if err != nil {
		s.internalError(c, "get record", err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// handleListRuns handles GET /sync-runs
func (s *Server) handleListRuns(c *gin.Context) {
	limit, err := intParam(c, "limit", defaultRunsLimit)
	if err != nil {
		badRequest(c, err)
		return
	}

	runs, err := s.ledger.List(c.Request.Context(), c.Query("endpoint"), min(limit, maxLimit))
	if err != nil {
		s.internalError(c, "list sync runs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun handles GET /sync-runs/:id
func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "get sync run", err)
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
		return
	}

	c.JSON(http.StatusOK, run)
}

func (s *Server) handleBillStatistics(c *gin.Context) {
	congress, ok := congressParam(c)
	if !ok {
		return
	}
	stats, err := s.analyzer.BillStatistics(c.Request.Context(), congress)
	s.respondAnalysis(c, stats, err)
}

func (s *Server) handleTemporal(c *gin.Context) {
	congress, ok := congressParam(c)
	if !ok {
		return
	}
	grouping, err := analysis.ParseGrouping(c.Query("group_by"))
	if err != nil {
		badRequest(c, err)
		return
	}
	periods, err := s.analyzer.Temporal(c.Request.Context(), congress, grouping)
	s.respondAnalysis(c, periods, err)
}

func (s *Server) handlePolicyAreas(c *gin.Context) {
	congress, ok := congressParam(c)
	if !ok {
		return
	}
	areas, err := s.analyzer.PolicyAreas(c.Request.Context(), congress)
	s.respondAnalysis(c, areas, err)
}

func (s *Server) handleBipartisan(c *gin.Context) {
	congress, ok := congressParam(c)
	if !ok {
		return
	}
	result, err := s.analyzer.Bipartisan(c.Request.Context(), congress)
	s.respondAnalysis(c, result, err)
}

func (s *Server) handleNetwork(c *gin.Context) {
	congress, ok := congressParam(c)
	if !ok {
		return
	}
	minCosponsors, err := intParam(c, "min_cosponsors", analysis.DefaultMinCosponsors)
	if err != nil {
		badRequest(c, err)
		return
	}
	network, err := s.analyzer.CosponsorNetwork(c.Request.Context(), congress, minCosponsors)
	s.respondAnalysis(c, network, err)
}

func (s *Server) handleSuccessFactors(c *gin.Context) {
	congress, ok := congressParam(c)
	if !ok {
		return
	}
	factors, err := s.analyzer.SuccessFactors(c.Request.Context(), congress)
	s.respondAnalysis(c, factors, err)
}

func (s *Server) handleCommitteeEffectiveness(c *gin.Context) {
	congress, ok := congressParam(c)
	if !ok {
		return
	}
	stats, err := s.analyzer.CommitteeEffectiveness(c.Request.Context(), congress)
	s.respondAnalysis(c, stats, err)
}

func (s *Server) handleMemberStatistics(c *gin.Context) {
	congress, ok := congressParam(c)
	if !ok {
		return
	}
	stats, err := s.analyzer.MemberStatistics(c.Request.Context(), c.Param("id"), congress)
	s.respondAnalysis(c, stats, err)
}

func (s *Server) handleSessionStatistics(c *gin.Context) {
	congress, ok := congressParam(c)
	if !ok {
		return
	}
	sessions, err := s.analyzer.SessionStatistics(c.Request.Context(), congress)
	s.respondAnalysis(c, sessions, err)
}

func (s *Server) handleCompare(c *gin.Context) {
	raw := c.QueryArray("congress")
	if len(raw) < 2 {
		badRequest(c, errors.New("at least two congress values are required"))
		return
	}
	congresses := make([]int, 0, len(raw))
	for _, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, fmt.Errorf("invalid congress %q", v))
			return
		}
		congresses = append(congresses, n)
	}

	stats, err := s.analyzer.CompareCongresses(c.Request.Context(), congresses)
	s.respondAnalysis(c, stats, err)
}

func (s *Server) respondAnalysis(c *gin.Context, result any, err error) {
	if errors.Is(err, analysis.ErrNoData) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, "analysis", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) entity(c *gin.Context) (models.EntityType, bool) {
	entity, err := models.ParseEntityType(c.Param("entity"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return "", false
	}
	return entity, true
}

// storeError answers 400 for queries the backend rejected as invalid.
func (s *Server) storeError(c *gin.Context, op string, err error) {
	if errors.Is(err, storage.ErrInvalidQuery) {
		badRequest(c, err)
		return
	}
	s.internalError(c, op, err)
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.WithField("path", c.FullPath()).WithError(err).Errorf("failed to %s", op)
	c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to %s", op)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// parseQuery reads congress, sub_type, from_date, to_date, is_law, limit
// and offset.
func parseQuery(c *gin.Context, entity models.EntityType) (models.Query, error) {
	q := models.Query{EntityType: entity, SubType: c.Query("sub_type")}

	var err error
	if q.Congress, err = intParam(c, "congress", 0); err != nil {
		return q, err
	}
	if q.Limit, err = intParam(c, "limit", models.DefaultQueryLimit); err != nil {
		return q, err
	}
	q.Limit = min(q.Limit, maxLimit)
	if q.Offset, err = intParam(c, "offset", 0); err != nil {
		return q, err
	}
	if q.FromDate, err = models.ParseDateFilter(c.Query("from_date")); err != nil {
		return q, err
	}
	if q.ToDate, err = models.ParseDateFilter(c.Query("to_date")); err != nil {
		return q, err
	}
	if v := c.Query("is_law"); v != "" {
		isLaw, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("invalid is_law %q", v)
		}
		q.IsLaw = &isLaw
	}
	return q, nil
}

// intParam returns the non-negative integer query parameter, or def when
// it is absent.
func intParam(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func congressParam(c *gin.Context) (int, bool) {
	congress, err := intParam(c, "congress", 0)
	if err != nil {
		badRequest(c, err)
		return 0, false
	}
	return congress, true
}
