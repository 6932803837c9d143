package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	writeScalar(&sb, "dua_uptime_seconds", "gauge", "Time since the credits service started", snap.Uptime)

	writeLabeled(&sb, "dua_requests_total", "counter", "Total number of requests by endpoint", "endpoint", snap.TotalRequests)
	writeLabeled(&sb, "dua_request_errors_total", "counter", "Total number of request errors by endpoint", "endpoint", snap.RequestErrors)

	active := make(map[string]int64)
	for endpoint, count := range snap.RequestsInProgress {
		if count > 0 {
			active[endpoint] = count
		}
	}
	writeLabeled(&sb, "dua_requests_in_progress", "gauge", "Current number of requests being processed", "endpoint", active)
	writeLabeled(&sb, "dua_request_duration_ms_total", "counter", "Total request duration in milliseconds", "endpoint", snap.TotalRequestsDur)

	writeScalar(&sb, "dua_rate_limit_hits_total", "counter", "Total number of rate limit rejections", snap.RateLimitHits)

	writeLabeled(&sb, "dua_credit_charges_total", "counter", "Successful deductions by operation", "operation", snap.Charges)
	writeLabeled(&sb, "dua_credits_charged_total", "counter", "Credits deducted by operation", "operation", snap.CreditsCharged)
	writeLabeled(&sb, "dua_credit_refunds_total", "counter", "Refunded charges by operation", "operation", snap.Refunds)
	writeLabeled(&sb, "dua_credits_refunded_total", "counter", "Credits refunded by operation", "operation", snap.CreditsRefunded)
	writeLabeled(&sb, "dua_insufficient_credits_total", "counter", "Requests rejected with 402 by operation", "operation", snap.Insufficient)
	writeLabeled(&sb, "dua_deduction_failures_total", "counter", "Vendor successes that could not be billed", "operation", snap.DeductionFailures)
	writeLabeled(&sb, "dua_free_operations_total", "counter", "Operations served without touching the ledger", "operation", snap.FreeOperations)
	writeScalar(&sb, "dua_credits_granted_total", "counter", "Credits added to balances", snap.CreditsGranted)

	writeLabeled(&sb, "dua_vendor_requests_total", "counter", "Total requests to vendor adapters", "adapter", snap.VendorRequests)
	writeLabeled(&sb, "dua_vendor_errors_total", "counter", "Total vendor adapter errors", "adapter", snap.VendorErrors)
	writeLabeled(&sb, "dua_vendor_latency_ms_total", "counter", "Total vendor latency in milliseconds", "adapter", snap.VendorLatency)

	return sb.String()
}

func writeScalar(sb *strings.Builder, name, typ, help string, value int64) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, typ)
	fmt.Fprintf(sb, "%s %d\n\n", name, value)
}

func writeLabeled(sb *strings.Builder, name, typ, help, label string, values map[string]int64) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, typ)
	for _, key := range sortedKeys(values) {
		fmt.Fprintf(sb, "%s{%s=%q} %d\n", name, label, key, values[key])
	}
	sb.WriteString("\n")
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
