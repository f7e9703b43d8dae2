// Package notify carries structured outcomes from the core to the chat
// transport. The core never renders text: it publishes an outcome kind plus
// parameters and leaves message templates and language packs to the UI
// collaborator subscribed on the bus.
package notify

import (
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// TopicUserNotify is the bus topic the chat transport subscribes to.
const TopicUserNotify = "user:notify"

type Kind string

const (
	KindPurchaseComplete  Kind = "purchase_complete"
	KindPurchaseFailed    Kind = "purchase_failed"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindSoldOut           Kind = "sold_out"
	KindDiscountDropped   Kind = "discount_dropped"
	KindDepositCredited   Kind = "deposit_credited"
	KindDepositFailed     Kind = "deposit_failed"
)

// Outcome is a renderable event: a kind and its template parameters.
type Outcome struct {
	Kind   Kind
	Params map[string]interface{}
}

// Notifier pushes user-facing outcomes. The core invokes it but never
// implements rendering.
type Notifier interface {
	Notify(userID int64, outcome Outcome)
}

// BusNotifier publishes outcomes on an EventBus topic.
type BusNotifier struct {
	bus EventBus.Bus
}

func NewBusNotifier(bus EventBus.Bus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func (n *BusNotifier) Notify(userID int64, outcome Outcome) {
	n.bus.Publish(TopicUserNotify, userID, outcome)
}

// Subscribe attaches a transport callback to the notify topic.
func Subscribe(bus EventBus.Bus, fn func(userID int64, outcome Outcome)) error {
	return bus.Subscribe(TopicUserNotify, fn)
}

// SubscribeLogger installs a default subscriber that logs outcomes, so they
// remain observable when no chat transport is attached.
func SubscribeLogger(bus EventBus.Bus) {
	_ = Subscribe(bus, func(userID int64, outcome Outcome) {
		zap.L().Info("user notification",
			zap.Int64("user_id", userID),
			zap.String("kind", string(outcome.Kind)),
			zap.Any("params", outcome.Params))
	})
}
