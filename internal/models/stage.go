package models

// Stage: каноническая стадия жизненного цикла заказа, к которой сводятся
// все статусы провайдера доставки.
type Stage string

const (
	StageCreated        Stage = "CREATED"
	StageConfirmed      Stage = "CONFIRMED"
	StagePickedUp       Stage = "PICKED_UP"
	StageInTransit      Stage = "IN_TRANSIT"
	StageOutForDelivery Stage = "OUT_FOR_DELIVERY"
	StageOnHold         Stage = "ON_HOLD"
	StageDelivered      Stage = "DELIVERED"
	StageReturned       Stage = "RETURNED"
	StageCancelled      Stage = "CANCELLED"
)

// Stages lists every stage in lifecycle order.
var Stages = []Stage{
	StageCreated,
	StageConfirmed,
	StagePickedUp,
	StageInTransit,
	StageOutForDelivery,
	StageOnHold,
	StageDelivered,
	StageReturned,
	StageCancelled,
}

// Terminal reports whether no further tracking-driven notification should follow the stage.
func (s Stage) Terminal() bool {
	switch s {
	case StageDelivered, StageReturned, StageCancelled:
		return true
	default:
		return false
	}
}

func (s Stage) Valid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}
