package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	CampaignTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_campaign_transitions_total", Help: "Campaign lifecycle actions"},
		[]string{"action", "result"},
	)
	SchedulerPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_scheduler_passes_total", Help: "Scheduler passes"},
		[]string{"result"},
	)
	SchedulerPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "crm_scheduler_pass_seconds", Help: "Scheduler pass duration", Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_deliveries_total", Help: "Per-recipient delivery outcomes"},
		[]string{"channel", "outcome"},
	)
	ChannelSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_channel_send_total", Help: "Channel adapter call outcomes"},
		[]string{"channel", "result", "http_status"},
	)
	ChannelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "crm_channel_send_latency_seconds", Help: "Channel adapter latency"},
		[]string{"channel"},
	)
	ChannelEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_channel_events_total", Help: "Inbound channel events"},
		[]string{"event", "status"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_enqueue_total", Help: "SQS enqueue results"},
		[]string{"result"},
	)
	ContactCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_contact_cache_total", Help: "Contact cache lookups"},
		[]string{"result"},
	)
	AIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "crm_ai_requests_total", Help: "Assistant generation calls"},
		[]string{"kind", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		APIRequests, CampaignTransitions,
		SchedulerPasses, SchedulerPassDuration, Deliveries,
		ChannelSend, ChannelLatency, ChannelEvents, Enqueues,
		ContactCache, AIRequests,
	)
}
