package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicOrderPayment       = "order.payment.recorded"
)

// Partition key = order id so one order's events stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
