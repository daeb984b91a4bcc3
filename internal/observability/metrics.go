package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"

	MPaymentTransitions        MetricKey = "payment_transitions_total"
	MPaymentInvalidTransitions MetricKey = "payment_invalid_transitions_total"
	MPaymentActivePollers      MetricKey = "payment_active_pollers"
)
