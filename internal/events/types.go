package events

// Event enumerates high-level topics inside the relay.
type Event string

const (
	EventSignalReceived Event = "signal.received"
	EventSignalIgnored  Event = "signal.ignored"
	EventReconcileDone  Event = "reconcile.done"
	EventNotify         Event = "notify"
)
