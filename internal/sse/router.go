package sse

import "log"

// DeliveryReport is the aggregate outcome of one publish. Producers get no
// per-connection confirmation; zero targets is a normal condition (nobody
// from that scope is online).
type DeliveryReport struct {
	Targeted  int
	Delivered int
	Failed    int
}

// Publisher is the narrow interface producers call after their own state
// change has committed. Publish is fire-and-forget: undelivered events are
// not retried.
type Publisher interface {
	Publish(ev Event) DeliveryReport
}

// Router resolves a published event's scope against the registry and writes
// the serialized frame to every matching connection.
type Router struct {
	registry *Registry
	admitter *Admitter
}

func NewRouter(registry *Registry, admitter *Admitter) *Router {
	return &Router{registry: registry, admitter: admitter}
}

// Publish serializes the event once, snapshots the target set, then enqueues
// per connection with the registry lock released. A failure on one
// connection dismisses that connection and never aborts delivery to the
// others.
func (rt *Router) Publish(ev Event) DeliveryReport {
	frame, err := marshalFrame(ev)
	if err != nil {
		log.Printf("sse: dropping unserializable %s event: %v", ev.Type, err)
		return DeliveryReport{}
	}

	var targets []*Connection
	switch ev.Scope.Kind {
	case ScopeUser:
		targets = rt.registry.GetByUser(ev.Scope.UserID)
	case ScopeOrganization:
		targets = rt.registry.GetByOrganization(ev.Scope.OrganizationID)
	case ScopeBroadcast:
		targets = rt.registry.All()
	}

	report := DeliveryReport{Targeted: len(targets)}
	for _, c := range targets {
		if err := c.enqueue(frame); err != nil {
			report.Failed++
			log.Printf("sse: dismissing connection %s after failed %s delivery: %v", c.ID, ev.Type, err)
			rt.admitter.Dismiss(c)
			continue
		}
		report.Delivered++
	}
	return report
}
