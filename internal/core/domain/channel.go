package domain

// ConnectionState is the lifecycle phase of the realtime channel.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionClosing      ConnectionState = "closing"
)

// Subscription types pushed by the dashboard feed.
const (
	SubscriptionBlockHeight = "blockHeight"
	SubscriptionFeeSnapshot = "feeSnapshot"
	SubscriptionHealthPing  = "healthPing"
)
