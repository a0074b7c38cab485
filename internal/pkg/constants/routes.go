package constants

// Static route constants
const (
	WebhookIngestRoute  = "/webhooks/:source"
	AdminHealthRoute    = "/admin/webhooks/health"
	AdminDLQRoute       = "/admin/webhooks/dlq"
	AdminReprocessRoute = "/admin/webhooks/dlq/:id/reprocess"
)
