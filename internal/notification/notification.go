package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// KindPaymentCompleted is sent once a payment is confirmed on chain.
	KindPaymentCompleted = "PAYMENT_COMPLETED"
	// KindPaymentFailed is sent once a payment exhausted its attempts.
	KindPaymentFailed = "PAYMENT_FAILED"
)

// Operator roles notified about payment outcomes.
var operatorRoles = []string{"ADMIN", "FINANCE_MANAGER"}

// Message describes a notification payload.
type Message struct {
	Kind        string    `json:"kind"`
	PaymentID   string    `json:"payment_id"`
	BatchID     string    `json:"batch_id,omitempty"`
	EmployeeID  string    `json:"employee_id"`
	Amount      string    `json:"amount"`
	Asset       string    `json:"asset"`
	Network     string    `json:"network"`
	Destination string    `json:"destination,omitempty"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// PaymentCompleted builds the message for a confirmed payment.
func PaymentCompleted(paymentID, batchID, employeeID, amount, asset, network, txHash string) Message {
	return Message{
		Kind:       KindPaymentCompleted,
		PaymentID:  paymentID,
		BatchID:    batchID,
		EmployeeID: employeeID,
		Amount:     amount,
		Asset:      asset,
		Network:    network,
		Body:       fmt.Sprintf("Payment of %s %s sent on %s (tx %s)", amount, asset, network, txHash),
		CreatedAt:  time.Now().UTC(),
	}
}

// PaymentFailed builds the message for a failed payment.
func PaymentFailed(paymentID, batchID, employeeID, amount, asset, network, reason string) Message {
	return Message{
		Kind:       KindPaymentFailed,
		PaymentID:  paymentID,
		BatchID:    batchID,
		EmployeeID: employeeID,
		Amount:     amount,
		Asset:      asset,
		Network:    network,
		Body:       fmt.Sprintf("Payment of %s %s on %s failed: %s", amount, asset, network, reason),
		CreatedAt:  time.Now().UTC(),
	}
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"payment_id", message.PaymentID,
		"employee_id", message.EmployeeID,
		"network", message.Network,
		"body", message.Body,
	)
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsOperatorRole reports whether role receives payment notifications.
func IsOperatorRole(role string) bool {
	for _, r := range operatorRoles {
		if r == role {
			return true
		}
	}
	return false
}
