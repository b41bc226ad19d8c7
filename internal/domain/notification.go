package domain

import "time"

// ChannelType is a notification delivery channel.
type ChannelType string

const (
	ChannelEmail    ChannelType = "EMAIL"
	ChannelSMS      ChannelType = "SMS"
	ChannelPush     ChannelType = "PUSH"
	ChannelChat     ChannelType = "CHAT"
	ChannelWebhook  ChannelType = "WEBHOOK"
	ChannelWhatsApp ChannelType = "WHATSAPP"
)

// IsValid checks if the channel type is a known value.
func (c ChannelType) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelChat, ChannelWebhook, ChannelWhatsApp:
		return true
	}
	return false
}

// NotificationStatus is the delivery state of a notification record.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
)

// Notification is one delivery attempt record: one recipient, one channel.
// Attempts counts transport tries including the successful one. SENT and
// FAILED are terminal; the only mutation allowed afterwards is a
// DeliveredAt backfill when the channel confirms delivery.
type Notification struct {
	ID          string             `json:"id"`
	IncidentID  string             `json:"incident_id"`
	UserID      *string            `json:"user_id"`
	Channel     ChannelType        `json:"channel"`
	Recipient   string             `json:"recipient"`
	Subject     string             `json:"subject"`
	Body        string             `json:"body"`
	Status      NotificationStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	ErrorMsg    *string            `json:"error_msg"`
	SentAt      *time.Time         `json:"sent_at"`
	DeliveredAt *time.Time         `json:"delivered_at"`
	FailedAt    *time.Time         `json:"failed_at"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
