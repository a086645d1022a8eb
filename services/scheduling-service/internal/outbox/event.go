package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the scheduling service. Delivery (webhooks, WhatsApp,
// email) is owned by the notification dispatcher consuming these topics.
const (
	EventAppointmentCreated     = "scheduling.appointment.created.v1"
	EventAppointmentRescheduled = "scheduling.appointment.rescheduled.v1"
	EventAppointmentCancelled   = "scheduling.appointment.cancelled.v1"
	EventConsultationCompleted  = "scheduling.consultation.completed.v1"
)
