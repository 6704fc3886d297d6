/*
Package events provides an in-memory event broker used to decouple the
lifecycle engine from its interested subscribers.

Broker buffers published events on an internal channel and fans them out to
every active Subscriber. A slow or absent subscriber never blocks a
publisher: broadcast is a non-blocking send per subscriber, so a full
subscriber buffer simply drops the event rather than stalling the engine.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			handle(ev)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventTaskActivated,
		Message: task.Id,
	})

pkg/state.Engine is the publisher: every lifecycle, messaging, dispense,
and audit-append step publishes an event. The audit trail itself does not
go through the broker; the engine appends audit entries directly, and no
package in this repository subscribes.
*/
package events
