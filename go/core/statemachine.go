package core

import "fmt"

// allowed is the full transition table of the order lifecycle.
// Terminal states map only to themselves.
var allowed = map[OrderStatus][]OrderStatus{
	OrderCreated:          {OrderVerifyingAge, OrderCanceled},
	OrderVerifyingAge:     {OrderPaymentAuth, OrderCanceled},
	OrderPaymentAuth:      {OrderPendingMerchant, OrderCanceled},
	OrderPendingMerchant:  {OrderMerchantAccepted, OrderCanceled},
	OrderMerchantAccepted: {OrderDispatching, OrderCanceled},
	OrderDispatching:      {OrderPickup, OrderCanceled},
	OrderPickup:           {OrderEnRoute, OrderCanceled},
	OrderEnRoute:          {OrderDoorstepVerify, OrderCanceled},
	OrderDoorstepVerify:   {OrderDelivered, OrderRefusedReturning},
	OrderDelivered:        {OrderDelivered},
	OrderRefusedReturning: {OrderRefusedReturning},
	OrderCanceled:         {OrderCanceled},
}

// Transition returns the target status when the move from -> to is
// allowed, and ErrInvalidTransition otherwise. It never mutates state;
// callers persist the returned status themselves.
func Transition(from, to OrderStatus) (OrderStatus, error) {
	for _, next := range allowed[from] {
		if next == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("cannot transition %s -> %s: %w", from, to, ErrInvalidTransition)
}

// CanTransition reports whether from -> to is in the table. Task-to-order
// cascades use this for best-effort syncs instead of swallowing errors.
func CanTransition(from, to OrderStatus) bool {
	_, err := Transition(from, to)
	return err == nil
}

// Terminal reports whether a status admits no further movement.
func Terminal(s OrderStatus) bool {
	return s == OrderDelivered || s == OrderCanceled || s == OrderRefusedReturning
}

// Path returns the shortest sequence of allowed transitions leading
// from -> to, excluding from itself, or ErrInvalidTransition when to is
// unreachable. Operations that must force an order forward (doorstep
// check, refusal) walk this path so every persisted transition stays
// inside the table.
func Path(from, to OrderStatus) ([]OrderStatus, error) {
	if from == to {
		return nil, nil
	}

	var prev = map[OrderStatus]OrderStatus{from: from}
	var queue = []OrderStatus{from}
	for len(queue) > 0 {
		var cur = queue[0]
		queue = queue[1:]
		for _, next := range allowed[cur] {
			if next == cur {
				continue
			}
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []OrderStatus
				for s := to; s != from; s = prev[s] {
					path = append([]OrderStatus{s}, path...)
				}
				return path, nil
			}
			queue = append(queue, next)
		}
	}
	return nil, fmt.Errorf("no path %s -> %s: %w", from, to, ErrInvalidTransition)
}
