package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lorekeeper/recall/pkg/core"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/retrieval"
)

const maxQuerySize = 10 << 10

// RetrieveRequest is the body of POST /api/retrieve.
type RetrieveRequest struct {
	UserID   string                  `json:"user_id"`
	Query    string                  `json:"query"`
	History  []memory.Turn           `json:"history,omitempty"`
	Limit    int                     `json:"limit,omitempty"`
	Strategy string                  `json:"strategy,omitempty"`
	Weights  *memory.StrategyWeights `json:"weights,omitempty"`
	Rerank   *bool                   `json:"rerank,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRetrieve(c *gin.Context) {
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		badRequest(c, "user_id is required")
		return
	}
	if len(req.Query) > maxQuerySize {
		badRequest(c, "query exceeds maximum size of 10KB")
		return
	}

	opts := []core.RetrieveOption{core.WithQuery(req.Query)}
	if len(req.History) > 0 {
		opts = append(opts, core.WithHistory(req.History))
	}
	if req.Limit > 0 {
		opts = append(opts, core.WithLimit(req.Limit))
	}
	if req.Strategy != "" {
		opts = append(opts, core.WithStrategy(retrieval.Strategy(req.Strategy)))
	}
	if req.Weights != nil {
		opts = append(opts, core.WithWeights(*req.Weights))
	}
	if req.Rerank != nil {
		opts = append(opts, core.WithReranking(*req.Rerank))
	}

	mc := s.retriever.Retrieve(c.Request.Context(), req.UserID, opts...)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    mc,
		"count":   len(mc.Memories),
	})
}

func (s *Server) handleSearch(c *gin.Context) {
	userID := c.Query("user_id")
	query := c.Query("q")

	if strings.TrimSpace(userID) == "" {
		badRequest(c, "user_id is required")
		return
	}
	if query == "" {
		badRequest(c, "query parameter required")
		return
	}
	if len(query) > maxQuerySize {
		badRequest(c, "query exceeds maximum size of 10KB")
		return
	}

	var opts []core.SearchOption
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		opts = append(opts, core.WithLimitForSearch(limit))
	}
	if v := c.Query("min_score"); v != "" {
		minScore, err := strconv.ParseFloat(v, 64)
		if err != nil {
			badRequest(c, "min_score must be a number")
			return
		}
		opts = append(opts, core.WithMinScore(minScore))
	}

	results, err := s.retriever.Search(c.Request.Context(), userID, query, opts...)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		s.logger.Warn("search failed", "user_id", userID, "error", err)
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}
