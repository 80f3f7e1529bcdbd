package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"trade-relay/internal/account"
	"trade-relay/internal/engine"
	"trade-relay/internal/events"
	"trade-relay/internal/journal"
	"trade-relay/internal/signal"

	"github.com/gin-gonic/gin"
)

// handleSignal is the webhook entry point. It always answers: a signal's
// total failure degrades to a result body with failure messages, never a
// dropped connection or a 5xx from the reconciliation itself.
func (s *Server) handleSignal(c *gin.Context) {
	acct, ok := s.resolveAccount(c.Param("sub"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"msg": "unknown sub-account"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "unreadable request body"})
		return
	}

	if s.Metrics != nil {
		s.Metrics.IncrementSignals()
	}
	requestID := c.GetString("RequestID")
	// The side-channel sees every inbound request, before any parsing.
	s.publish(events.EventSignalReceived, string(body))
	s.publish(events.EventNotify, fmt.Sprintf("[%s] %s received: %s", s.Meta.InstanceID, acct.Name(), summarize(body)))

	kind := signal.Classify(body, s.PatternMarkers)

	var intent signal.Intent
	switch kind {
	case signal.KindJSON:
		intent, err = signal.ParseJSON(body, s.APISecret)
	case signal.KindPattern:
		intent, err = signal.ParsePattern(body, s.PatternMarkers, acct.Defaults())
	default:
		s.ignore(c, acct, requestID, "none", "not applicable")
		return
	}

	switch {
	case errors.Is(err, signal.ErrPermissionDenied):
		s.journalEntry(c, journal.Entry{RequestID: requestID, Account: acct.Name(), Kind: kindString(kind), Message: "permission denied"})
		c.JSON(http.StatusUnauthorized, gin.H{"msg": "permission denied"})
		return
	case errors.Is(err, signal.ErrNotApplicable):
		s.ignore(c, acct, requestID, kindString(kind), "not applicable")
		return
	case errors.Is(err, signal.ErrUnrecognizedPattern):
		// An unmatched pattern is a no-op, not an error response.
		s.ignore(c, acct, requestID, kindString(kind), "unrecognized pattern")
		return
	case err != nil:
		// Validation failure: surfaced in the result message, no exchange
		// calls made.
		res := engine.Result{AccountName: acct.Name(), Message: err.Error()}
		s.journalEntry(c, journal.Entry{RequestID: requestID, Account: acct.Name(), Kind: kindString(kind), Result: &res, Message: res.Message})
		c.JSON(http.StatusOK, res)
		return
	}

	// Once accepted, a reconciliation runs to completion: the caller
	// hanging up or the request timeout firing must not abort the exchange
	// sequence mid-flight. The per-call gateway timeout is the only bound.
	res := s.Engine.Reconcile(context.WithoutCancel(c.Request.Context()), acct, intent)
	if kind == signal.KindPattern {
		res.Case = "leftTurn"
	}
	s.publish(events.EventReconcileDone, res)
	s.journalEntry(c, journal.Entry{
		RequestID: requestID,
		Account:   acct.Name(),
		Kind:      kindString(kind),
		Symbol:    intent.Symbol,
		Side:      string(intent.Side),
		Position:  string(intent.Position),
		OrderType: string(intent.OrderType),
		Amount:    intent.Amount,
		Result:    &res,
		Message:   res.Message,
	})
	c.JSON(http.StatusOK, res)
}

// resolveAccount maps a path segment like "sub2" onto the 1-based account
// index from configuration order.
func (s *Server) resolveAccount(sub string) (*account.Account, bool) {
	idx, err := strconv.Atoi(strings.TrimPrefix(sub, "sub"))
	if err != nil || idx < 1 || idx > len(s.Accounts) {
		return nil, false
	}
	return s.Accounts[idx-1], true
}

func (s *Server) ignore(c *gin.Context, acct *account.Account, requestID, kind, msg string) {
	if s.Metrics != nil {
		s.Metrics.IncrementIgnored()
	}
	s.publish(events.EventSignalIgnored, msg)
	s.journalEntry(c, journal.Entry{RequestID: requestID, Account: acct.Name(), Kind: kind, Message: msg})
	c.JSON(http.StatusOK, gin.H{"msg": msg})
}

func (s *Server) publish(e events.Event, payload any) {
	if s.Bus != nil {
		s.Bus.Publish(e, payload)
	}
}

// journalEntry is best-effort: a journal failure never reaches the caller.
func (s *Server) journalEntry(c *gin.Context, e journal.Entry) {
	if s.Journal == nil {
		return
	}
	if err := s.Journal.Record(context.WithoutCancel(c.Request.Context()), e); err != nil {
		log.Printf("[api] journal record: %v", err)
	}
}

func kindString(k signal.Kind) string {
	switch k {
	case signal.KindJSON:
		return "json"
	case signal.KindPattern:
		return "pattern"
	default:
		return "none"
	}
}

// summarize trims a request body for the notification line. The shared
// secret must not leave the process, so JSON bodies get it blanked first.
func summarize(body []byte) string {
	const max = 160
	text := strings.TrimSpace(string(body))

	var fields map[string]any
	if json.Unmarshal(body, &fields) == nil {
		if _, ok := fields["apiSec"]; ok {
			fields["apiSec"] = "***"
			if redacted, err := json.Marshal(fields); err == nil {
				text = string(redacted)
			}
		}
	}

	if len(text) > max {
		// Back off to a rune boundary so a pattern alert's multi-byte
		// characters are never split into invalid UTF-8.
		cut := max
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut] + "..."
	}
	return text
}
