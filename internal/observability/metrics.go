package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "app_medrec_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"path", "method", "status"},
	)

	// ActiveConnections tracks active connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_medrec_active_connections",
			Help: "Number of active connections",
		},
	)

	// CacheHits tracks cache hits/misses
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_medrec_cache_hits_total",
			Help: "Number of cache hits",
		},
		[]string{"operation"},
	)

	// ChallengesOpened tracks authorization challenges by intent kind
	ChallengesOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_medrec_challenges_opened_total",
			Help: "Number of step-up challenges opened",
		},
		[]string{"kind"},
	)

	// IntentReplacements counts pending intents dropped by a newer request
	IntentReplacements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "app_medrec_intent_replacements_total",
			Help: "Number of pending intents replaced before resolution",
		},
	)

	// OTPSends tracks OTP send attempts
	OTPSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_medrec_otp_sends_total",
			Help: "Number of OTP send attempts",
		},
		[]string{"status"},
	)

	// OTPVerifications tracks OTP verification attempts
	OTPVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_medrec_otp_verifications_total",
			Help: "Number of OTP verification attempts",
		},
		[]string{"status"},
	)

	// AuthorizationOutcomes tracks terminal broker outcomes
	AuthorizationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_medrec_authorization_outcomes_total",
			Help: "Number of authorization challenges by terminal outcome",
		},
		[]string{"outcome"},
	)

	// ActiveSessions tracks sessions held by the broker registry
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_medrec_active_sessions",
			Help: "Number of sessions with a live authorization broker",
		},
	)

	// ResumeResults counts resumed intents by kind and result
	ResumeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_medrec_resume_results_total",
			Help: "Number of resumed intents by kind and result",
		},
		[]string{"kind", "result"},
	)

	// AuditLogsDropped counts audit entries dropped because the buffer was full
	AuditLogsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "app_medrec_audit_logs_dropped_total",
			Help: "Number of audit entries dropped",
		},
	)
)
