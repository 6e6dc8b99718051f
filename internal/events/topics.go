package events

// Topic constants for domain events emitted by the order, pickup and promo services.
const (
	TopicOrderCreated            = "order.created"
	TopicOrderStatusChanged      = "order.status_changed"
	TopicOrderCancelled          = "order.cancelled"
	TopicPickupRequested         = "pickup.requested"
	TopicPickupStatusChanged     = "pickup.status_changed"
	TopicPromoRedeemed           = "promo.redeemed"
	TopicPromoRedemptionRejected = "promo.redemption_rejected"
)

// StatusTopics returns the topics customers are notified about.
func StatusTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderStatusChanged,
		TopicOrderCancelled,
	}
}
