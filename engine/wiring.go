package engine

import (
	"context"

	"linetrack/protocol"
	"linetrack/station"
)

const machineStation = "station"

func (e *Engine) wireEventHandlers() {
	// Transitions: session log, cache, outbox
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(StateChangedEvent)
		e.logFn("engine: station %s -> %s (%s)", ev.From, ev.To, ev.Reason)
		se := protocol.StationEvent{
			Machine: machineStation,
			From:    string(ev.From),
			To:      string(ev.To),
			Reason:  ev.Reason,
			At:      evt.Timestamp.UTC(),
		}
		if e.db != nil {
			if _, err := e.db.LogTransition(se.Machine, se.From, se.To, se.Reason); err != nil {
				e.logFn("engine: log transition: %v", err)
			}
		}
		if err := e.cache.PushTransition(context.Background(), se); err != nil {
			e.debugFn("engine: cache transition: %v", err)
		}
		e.refreshSnapshot()
		e.enqueueEvent(se)
	}, EventStationStateChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(AcknowledgedEvent)
		e.logFn("engine: operator acknowledged %s", ev.State)
		e.refreshSnapshot()
	}, EventAbnormalAcknowledged)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(WarningEvent)
		e.logFn("engine: warning [%s] %s", ev.Warning.Type, ev.Warning.Message)
	}, EventWarning)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(HealthCheckedEvent)
		if !ev.Verdict.OK && e.machine.State() != station.Initial {
			e.debugFn("engine: health failed: %v %s", ev.Verdict.Failed, ev.Verdict.Err)
		}
	}, EventHealthChecked)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		e.logFn("engine: %s", ev.Detail)
	}, EventMessagingConnected, EventMessagingDisconnected)
}

// enqueueEvent queues a transition for the outbox drainer. The outbox is
// only drained on a broker transport.
func (e *Engine) enqueueEvent(se protocol.StationEvent) {
	if e.db == nil || e.msgClient == nil || e.cfg.Messaging.EventsTopic == "" {
		return
	}
	codec, err := protocol.CodecByName(e.cfg.Sync.Codec)
	if err != nil {
		codec = protocol.JSON
	}
	src := protocol.Address{Role: protocol.RoleStation, Node: e.cfg.Messaging.StationID}
	dst := protocol.Address{Role: protocol.RoleVehicle, Node: "*"}
	env, err := protocol.NewEnvelopeWith(codec, protocol.TypeStationEvent, src, dst, se)
	if err != nil {
		e.logFn("engine: build station event: %v", err)
		return
	}
	data, err := env.EncodeWith(codec)
	if err != nil {
		e.logFn("engine: encode station event: %v", err)
		return
	}
	if _, err := e.db.EnqueueOutbox(e.cfg.Messaging.EventsTopic, protocol.TypeStationEvent, src.Node, data); err != nil {
		e.logFn("engine: enqueue station event: %v", err)
	}
}
