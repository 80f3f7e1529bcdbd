package api

import (
	"log"
	"net/http"
	"time"

	"trade-relay/internal/account"

	"github.com/gin-gonic/gin"
)

func (s *Server) getStatus(c *gin.Context) {
	status := gin.H{
		"instance_id": s.Meta.InstanceID,
		"version":     s.Meta.Version,
		"testnet":     s.Meta.Testnet,
		"uptime":      time.Since(s.Meta.StartedAt).Round(time.Second).String(),
		"accounts":    len(s.Accounts),
	}
	if s.Journal != nil {
		if n, err := s.Journal.Count(c.Request.Context()); err == nil {
			status["signals_journaled"] = n
		} else {
			log.Printf("[api] journal count: %v", err)
		}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not enabled"})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// getAccounts returns each account's remembered last-order state. Snapshot
// waits on in-flight reconciliations, so the view is always consistent.
func (s *Server) getAccounts(c *gin.Context) {
	statuses := make([]account.Status, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		statuses = append(statuses, a.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"accounts": statuses})
}
