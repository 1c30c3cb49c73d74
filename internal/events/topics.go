package events

// Topic constants for domain events emitted by checkout.
const (
	TopicPaymentAuthorized = "payment.authorized"
	TopicPaymentCaptured   = "payment.captured"
	TopicPaymentRefunded   = "payment.refunded"
	TopicShippingQuoted    = "shipping.quoted"
)
