// Package notify pushes reconciliation outcomes to Telegram. Delivery is
// best-effort: a send failure is logged and counted, never surfaced to the
// webhook caller.
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trade-relay/internal/engine"
	"trade-relay/internal/events"
	"trade-relay/internal/monitor"
)

// sender abstracts the Telegram bot for testing.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier consumes bus events and forwards them to a Telegram chat.
type Notifier struct {
	bot     sender
	chatID  int64
	metrics *monitor.SystemMetrics

	wg    sync.WaitGroup
	stops []func()
}

// New connects to the Telegram Bot API. Returns nil without error when no
// token is configured: notifications are an optional feature.
func New(token string, chatID int64, metrics *monitor.SystemMetrics) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	log.Printf("[notify] telegram bot authorized as @%s", bot.Self.UserName)
	return &Notifier{bot: bot, chatID: chatID, metrics: metrics}, nil
}

// Start subscribes to reconciliation outcomes and free-form notices on the
// bus. Call Stop to drain and unsubscribe.
func (n *Notifier) Start(bus *events.Bus) {
	done, unsubDone := bus.Subscribe(events.EventReconcileDone, 64)
	notices, unsubNotices := bus.Subscribe(events.EventNotify, 64)
	n.stops = append(n.stops, unsubDone, unsubNotices)

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		for payload := range done {
			if res, ok := payload.(engine.Result); ok {
				n.send(formatResult(res))
			}
		}
	}()
	go func() {
		defer n.wg.Done()
		for payload := range notices {
			if text, ok := payload.(string); ok {
				n.send(text)
			}
		}
	}()
}

// Stop unsubscribes from the bus and waits for in-flight sends.
func (n *Notifier) Stop() {
	for _, stop := range n.stops {
		stop()
	}
	n.wg.Wait()
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		log.Printf("[notify] telegram send: %v", err)
		if n.metrics != nil {
			n.metrics.IncrementNotifyFailures()
		}
	}
}

// formatResult renders a reconciliation result the same way the webhook
// response does, prefixed with the account for multi-account chats.
func formatResult(res engine.Result) string {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf("[%s] %s", res.AccountName, res.Message)
	}
	return fmt.Sprintf("[%s] %s", res.AccountName, body)
}
