package metrics

import (
	"sync"

	"github.com/voxen-labs/voxen/pkg/events"
	"github.com/voxen-labs/voxen/pkg/executor"
)

// BindBus 订阅生命周期事件驱动指标。
// 活跃通话数按 call_id 配对计数：只有记过 initiated 的通话
// 在终态时才递减，重复事件不会重复计数，计数器不会为负。
func (m *Metrics) BindBus(bus *events.Bus) {
	var mu sync.Mutex
	active := make(map[string]struct{})

	bus.Subscribe(events.TypeCallUpdate, func(event events.Event) error {
		callID, _ := event.Data["call_id"].(string)
		status, _ := event.Data["status"].(string)
		terminal, _ := event.Data["terminal"].(bool)
		if callID == "" {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()

		if status == "initiated" {
			if _, seen := active[callID]; !seen {
				active[callID] = struct{}{}
				m.CallsInitiated.Inc()
				m.ActiveCalls.Inc()
			}
		}
		if terminal {
			m.CallsCompleted.WithLabelValues(status).Inc()
			if _, seen := active[callID]; seen {
				delete(active, callID)
				m.ActiveCalls.Dec()
			}
		}
		return nil
	})
}

// ObserveRetry 供重试执行器上报重试次数
func (m *Metrics) ObserveRetry(obs executor.RetryObservation) {
	m.ProviderRetries.WithLabelValues(obs.Service).Inc()
}
