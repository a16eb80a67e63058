package engine

import (
	"container/list"
)

// agentQueue is an ordered set of agent connection IDs for one domain.
// Order is enqueue order and breaks ties between equally loaded agents
// during assignment. Membership test, append, and removal are O(1).
type agentQueue struct {
	order *list.List
	elems map[string]*list.Element
}

func newAgentQueue() *agentQueue {
	return &agentQueue{
		order: list.New(),
		elems: make(map[string]*list.Element),
	}
}

// Add appends an agent to the back of the queue. No-op if already present.
func (q *agentQueue) Add(agentID string) {
	if _, ok := q.elems[agentID]; ok {
		return
	}
	q.elems[agentID] = q.order.PushBack(agentID)
}

// Remove deletes an agent from the queue. No-op if absent.
func (q *agentQueue) Remove(agentID string) {
	if el, ok := q.elems[agentID]; ok {
		q.order.Remove(el)
		delete(q.elems, agentID)
	}
}

// Contains reports whether the agent is enqueued.
func (q *agentQueue) Contains(agentID string) bool {
	_, ok := q.elems[agentID]
	return ok
}

// Len returns the number of enqueued agents.
func (q *agentQueue) Len() int {
	return q.order.Len()
}

// IDs returns the agent IDs in enqueue order.
func (q *agentQueue) IDs() []string {
	ids := make([]string, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(string))
	}
	return ids
}
