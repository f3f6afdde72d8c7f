package domain

import "time"

const (
	ChannelKindWhatsApp = "whatsapp"

	ChannelStatusConnected    = "connected"
	ChannelStatusDisconnected = "disconnected"
)

// MessagingChannel is a tenant's connected instance on an external messaging provider.
type MessagingChannel struct {
	ID           string
	TenantID     string
	Kind         string
	Provider     string // evolution, wuzapi
	InstanceName string
	BaseURL      string
	APIToken     string
	Status       string
	Created      time.Time
}
