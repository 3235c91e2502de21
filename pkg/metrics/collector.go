package metrics

import (
	"strconv"
	"time"

	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// Collector periodically refreshes the state gauges from the store.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	err := c.store.View(func(tx *storage.Txn) error {
		if err := c.collectResources(tx); err != nil {
			return err
		}
		if err := c.collectProcesses(tx); err != nil {
			return err
		}
		if err := c.collectSessions(tx); err != nil {
			return err
		}
		if err := c.collectWorkItems(tx); err != nil {
			return err
		}
		return c.collectTriggers(tx)
	})
	if err != nil {
		log.Errorf("failed to collect metrics", err)
	}
}

func (c *Collector) collectResources(tx *storage.Txn) error {
	resources, err := tx.ListResources(false)
	if err != nil {
		return err
	}

	byAvailability := make(map[bool]int)
	for _, r := range resources {
		byAvailability[r.Available]++
	}
	for _, available := range []bool{true, false} {
		ResourcesTotal.WithLabelValues(strconv.FormatBool(available)).Set(float64(byAvailability[available]))
	}
	return nil
}

func (c *Collector) collectProcesses(tx *storage.Txn) error {
	processes, err := tx.ListProcesses(false)
	if err != nil {
		return err
	}
	ProcessesTotal.Set(float64(len(processes)))
	return nil
}

func (c *Collector) collectSessions(tx *storage.Txn) error {
	sessions, err := tx.ListSessions(false)
	if err != nil {
		return err
	}

	byStatus := make(map[types.SessionStatus]int)
	for _, s := range sessions {
		byStatus[s.Status]++
	}
	statuses := []types.SessionStatus{
		types.SessionStatusNew,
		types.SessionStatusInProgress,
		types.SessionStatusCompleted,
		types.SessionStatusFailed,
	}
	for _, st := range statuses {
		SessionsTotal.WithLabelValues(string(st)).Set(float64(byStatus[st]))
	}
	return nil
}

func (c *Collector) collectWorkItems(tx *storage.Txn) error {
	queues, err := tx.ListWorkqueues(false)
	if err != nil {
		return err
	}

	byStatus := make(map[types.WorkItemStatus]int)
	for _, q := range queues {
		items, err := tx.WorkItemsByQueue(q.ID)
		if err != nil {
			return err
		}
		for _, w := range items {
			byStatus[w.Status]++
		}
	}
	statuses := []types.WorkItemStatus{
		types.WorkItemStatusNew,
		types.WorkItemStatusInProgress,
		types.WorkItemStatusCompleted,
		types.WorkItemStatusFailed,
		types.WorkItemStatusPendingUserAction,
	}
	for _, st := range statuses {
		WorkItemsTotal.WithLabelValues(string(st)).Set(float64(byStatus[st]))
	}
	return nil
}

func (c *Collector) collectTriggers(tx *storage.Txn) error {
	triggers, err := tx.ListTriggers(false)
	if err != nil {
		return err
	}

	byType := make(map[types.TriggerType]int)
	for _, trg := range triggers {
		byType[trg.Type]++
	}
	for _, tt := range []types.TriggerType{types.TriggerTypeCron, types.TriggerTypeDate, types.TriggerTypeWorkqueue} {
		TriggersTotal.WithLabelValues(string(tt)).Set(float64(byType[tt]))
	}
	return nil
}
