package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Forward moves may skip steps. cancelled/refunded are reachable from every
// open state; a completed order can still be refunded.
var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true, StatusProcessing: true, StatusInProgress: true, StatusCompleted: true,
		StatusCancelled: true, StatusRefunded: true,
	},
	StatusConfirmed: {
		StatusProcessing: true, StatusInProgress: true, StatusCompleted: true,
		StatusCancelled: true, StatusRefunded: true,
	},
	StatusProcessing: {
		StatusInProgress: true, StatusCompleted: true,
		StatusCancelled: true, StatusRefunded: true,
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusCancelled: true, StatusRefunded: true,
	},
	StatusCompleted: {StatusRefunded: true},
	StatusCancelled: {},
	StatusRefunded:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Closed orders accept no further work (progress, fulfilment).
func (s Status) Closed() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentPartial  PaymentStatus = "partial"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded, PaymentPartial:
		return true
	}
	return false
}

type FulfillmentStatus string

const (
	FulfillmentUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentInProgress  FulfillmentStatus = "in_progress"
	FulfillmentFulfilled   FulfillmentStatus = "fulfilled"
	FulfillmentCancelled   FulfillmentStatus = "cancelled"
)
