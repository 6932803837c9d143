package metrics

import (
	"sync"
	"time"
)

// Collector tracks request and ledger counters and renders them for Prometheus.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64

	rateLimitHits int64

	// Ledger metrics, keyed by operation
	charges             map[string]int64
	creditsCharged      map[string]int64
	refunds             map[string]int64
	creditsRefunded     map[string]int64
	insufficient        map[string]int64
	deductionFailures   map[string]int64
	creditsGranted      int64
	freeOperationsCount map[string]int64

	// Vendor metrics, keyed by adapter
	vendorRequests map[string]int64
	vendorErrors   map[string]int64
	vendorLatency  map[string]int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:       make(map[string]int64),
		totalRequestsDur:    make(map[string]int64),
		requestErrors:       make(map[string]int64),
		requestsInProgress:  make(map[string]int64),
		charges:             make(map[string]int64),
		creditsCharged:      make(map[string]int64),
		refunds:             make(map[string]int64),
		creditsRefunded:     make(map[string]int64),
		insufficient:        make(map[string]int64),
		deductionFailures:   make(map[string]int64),
		freeOperationsCount: make(map[string]int64),
		vendorRequests:      make(map[string]int64),
		vendorErrors:        make(map[string]int64),
		vendorLatency:       make(map[string]int64),
		startTime:           time.Now(),
	}
}

// RecordRequest records a request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records an error for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]--
}

// RecordRateLimitHit records a rate limit rejection.
func (c *Collector) RecordRateLimitHit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitHits++
}

// RecordCharge records a successful deduction.
func (c *Collector) RecordCharge(operation string, credits int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.charges[operation]++
	c.creditsCharged[operation] += credits
}

// RecordFreeOperation records an operation that skipped the ledger.
func (c *Collector) RecordFreeOperation(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.freeOperationsCount[operation]++
}

// RecordRefund records a reversed charge.
func (c *Collector) RecordRefund(operation string, credits int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refunds[operation]++
	c.creditsRefunded[operation] += credits
}

// RecordInsufficient records a request rejected for lack of credits.
func (c *Collector) RecordInsufficient(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.insufficient[operation]++
}

// RecordDeductionFailure records a vendor success that could not be billed.
func (c *Collector) RecordDeductionFailure(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deductionFailures[operation]++
}

// RecordGrant records credits added to any balance.
func (c *Collector) RecordGrant(credits int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.creditsGranted += credits
}

// RecordVendorRequest records a call to a vendor adapter.
func (c *Collector) RecordVendorRequest(adapter string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vendorRequests[adapter]++
	c.vendorLatency[adapter] += duration.Milliseconds()
	if err != nil {
		c.vendorErrors[adapter]++
	}
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime             int64
	TotalRequests      map[string]int64
	TotalRequestsDur   map[string]int64
	RequestErrors      map[string]int64
	RequestsInProgress map[string]int64
	RateLimitHits      int64
	Charges            map[string]int64
	CreditsCharged     map[string]int64
	Refunds            map[string]int64
	CreditsRefunded    map[string]int64
	Insufficient       map[string]int64
	DeductionFailures  map[string]int64
	FreeOperations     map[string]int64
	CreditsGranted     int64
	VendorRequests     map[string]int64
	VendorErrors       map[string]int64
	VendorLatency      map[string]int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:             int64(time.Since(c.startTime).Seconds()),
		TotalRequests:      copyMap(c.totalRequests),
		TotalRequestsDur:   copyMap(c.totalRequestsDur),
		RequestErrors:      copyMap(c.requestErrors),
		RequestsInProgress: copyMap(c.requestsInProgress),
		RateLimitHits:      c.rateLimitHits,
		Charges:            copyMap(c.charges),
		CreditsCharged:     copyMap(c.creditsCharged),
		Refunds:            copyMap(c.refunds),
		CreditsRefunded:    copyMap(c.creditsRefunded),
		Insufficient:       copyMap(c.insufficient),
		DeductionFailures:  copyMap(c.deductionFailures),
		FreeOperations:     copyMap(c.freeOperationsCount),
		CreditsGranted:     c.creditsGranted,
		VendorRequests:     copyMap(c.vendorRequests),
		VendorErrors:       copyMap(c.vendorErrors),
		VendorLatency:      copyMap(c.vendorLatency),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
