// Package core holds the domain vocabulary of the order pipeline:
// status enums, actor types, and the order state machine. It has no
// dependencies so that every other package can speak these types.
package core

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderCreated          OrderStatus = "CREATED"
	OrderVerifyingAge     OrderStatus = "VERIFYING_AGE"
	OrderPaymentAuth      OrderStatus = "PAYMENT_AUTH"
	OrderPendingMerchant  OrderStatus = "PENDING_MERCHANT"
	OrderMerchantAccepted OrderStatus = "MERCHANT_ACCEPTED"
	OrderDispatching      OrderStatus = "DISPATCHING"
	OrderPickup           OrderStatus = "PICKUP"
	OrderEnRoute          OrderStatus = "EN_ROUTE"
	OrderDoorstepVerify   OrderStatus = "DOORSTEP_VERIFY"
	OrderDelivered        OrderStatus = "DELIVERED"
	OrderRefusedReturning OrderStatus = "REFUSED_RETURNING"
	OrderCanceled         OrderStatus = "CANCELED"
)

// TaskStatus is the lifecycle state of a delivery task.
type TaskStatus string

const (
	TaskUnassigned TaskStatus = "UNASSIGNED"
	TaskOffered    TaskStatus = "OFFERED"
	TaskAccepted   TaskStatus = "ACCEPTED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskExpired    TaskStatus = "EXPIRED"
	TaskFailed     TaskStatus = "FAILED"
)

// ActiveTaskStatuses are the statuses which count against the
// one-active-task-per-order invariant.
var ActiveTaskStatuses = []TaskStatus{TaskOffered, TaskAccepted, TaskInProgress}

// DriverStatus is the availability state of a driver.
type DriverStatus string

const (
	DriverOffline DriverStatus = "OFFLINE"
	DriverIdle    DriverStatus = "IDLE"
	DriverOnTask  DriverStatus = "ON_TASK"
	DriverPaused  DriverStatus = "PAUSED"
)

// ActorType identifies who emitted a dossier event.
type ActorType string

const (
	ActorCustomer ActorType = "customer"
	ActorDriver   ActorType = "driver"
	ActorMerchant ActorType = "merchant"
	ActorSystem   ActorType = "system"
	ActorSupport  ActorType = "support"
)

// PaymentStatus tracks authorization of the order total.
type PaymentStatus string

const (
	PaymentUnpaid     PaymentStatus = "UNPAID"
	PaymentAuthorized PaymentStatus = "AUTHORIZED"
	PaymentCaptured   PaymentStatus = "CAPTURED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// Dossier event types emitted by the lifecycle engine and dispatcher.
const (
	EventDisclosureAcknowledged = "DISCLOSURE_ACKNOWLEDGED"
	EventOrderStatusUpdated     = "ORDER_STATUS_UPDATED"
	EventAgeVerifyAttempted     = "AGE_VERIFY_ATTEMPTED"
	EventAgeVerifyPassed        = "AGE_VERIFY_PASSED"
	EventAgeVerifyFailed        = "AGE_VERIFY_FAILED"
	EventPaymentAuthorized      = "PAYMENT_AUTHORIZED"
	EventTaskCreated            = "TASK_CREATED"
	EventTaskOffered            = "TASK_OFFERED"
	EventTaskAccepted           = "TASK_ACCEPTED"
	EventTaskRejected           = "TASK_REJECTED"
	EventTaskStarted            = "TASK_STARTED"
	EventTaskCompleted          = "TASK_COMPLETED"
	EventTaskExpired            = "TASK_EXPIRED"
	EventDoorstepCheckStarted   = "DOORSTEP_ID_CHECK_STARTED"
	EventDoorstepCheckPassed    = "DOORSTEP_ID_CHECK_PASSED"
	EventDoorstepCheckFailed    = "DOORSTEP_ID_CHECK_FAILED"
	EventDelivered              = "DELIVERED"
	EventRefused                = "REFUSED"
	EventReturnInitiated        = "RETURN_INITIATED"
	EventReturnCompleted        = "RETURN_COMPLETED"
)

// Offer outcomes recorded on the offer log.
const (
	OutcomeAccepted = "ACCEPTED"
	OutcomeRejected = "REJECTED"
	OutcomeTimeout  = "TIMEOUT"
	OutcomeCanceled = "CANCELED"
)
