package model

// RFQStatus is the lifecycle state of a buyer request.
type RFQStatus string

const (
	RFQOpen      RFQStatus = "OPEN"
	RFQClosed    RFQStatus = "CLOSED"
	RFQFulfilled RFQStatus = "FULFILLED"
	RFQExpired   RFQStatus = "EXPIRED"
)

var rfqTransitions = map[RFQStatus][]RFQStatus{
	RFQOpen: {RFQClosed, RFQFulfilled, RFQExpired},
}

// Valid reports whether s is a known RFQ status.
func (s RFQStatus) Valid() bool {
	switch s {
	case RFQOpen, RFQClosed, RFQFulfilled, RFQExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s RFQStatus) IsTerminal() bool {
	return len(rfqTransitions[s]) == 0
}

// CanTransition reports whether s -> to is a legal move.
func (s RFQStatus) CanTransition(to RFQStatus) bool {
	for _, next := range rfqTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s RFQStatus) String() string { return string(s) }

// BidStatus is the lifecycle state of a vendor quotation.
type BidStatus string

const (
	BidDraft     BidStatus = "DRAFT"
	BidSent      BidStatus = "SENT"
	BidAccepted  BidStatus = "ACCEPTED"
	BidRejected  BidStatus = "REJECTED"
	BidExpired   BidStatus = "EXPIRED"
	BidCancelled BidStatus = "CANCELLED"
)

var bidTransitions = map[BidStatus][]BidStatus{
	BidDraft: {BidSent, BidExpired, BidCancelled},
	BidSent:  {BidAccepted, BidRejected, BidExpired, BidCancelled},
}

// Valid reports whether s is a known bid status.
func (s BidStatus) Valid() bool {
	switch s {
	case BidDraft, BidSent, BidAccepted, BidRejected, BidExpired, BidCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s BidStatus) IsTerminal() bool {
	return len(bidTransitions[s]) == 0
}

// CanTransition reports whether s -> to is a legal move.
func (s BidStatus) CanTransition(to BidStatus) bool {
	for _, next := range bidTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s BidStatus) String() string { return string(s) }

// Priority ranks how urgently a buyer needs responses.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority maps free text onto a Priority, defaulting to NORMAL.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityHigh, PriorityUrgent:
		return Priority(s)
	default:
		return PriorityNormal
	}
}
