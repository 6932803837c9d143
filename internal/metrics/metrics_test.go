package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCollectorLedgerCounters(t *testing.T) {
	c := NewCollector()
	c.RecordCharge("music_convert_wav", 1)
	c.RecordCharge("music_convert_wav", 1)
	c.RecordRefund("image_ultra", 35)
	c.RecordInsufficient("music_split_stem_full")
	c.RecordDeductionFailure("video_gen4_turbo_5s")
	c.RecordFreeOperation("chat_basic")
	c.RecordGrant(100)
	c.RecordVendorRequest("loopback", 20*time.Millisecond, nil)
	c.RecordVendorRequest("loopback", 10*time.Millisecond, errors.New("boom"))

	snap := c.GetSnapshot()
	if snap.Charges["music_convert_wav"] != 2 || snap.CreditsCharged["music_convert_wav"] != 2 {
		t.Fatalf("unexpected charges %+v", snap.Charges)
	}
	if snap.CreditsRefunded["image_ultra"] != 35 {
		t.Fatalf("unexpected refunds %+v", snap.CreditsRefunded)
	}
	if snap.VendorRequests["loopback"] != 2 || snap.VendorErrors["loopback"] != 1 || snap.VendorLatency["loopback"] != 30 {
		t.Fatalf("unexpected vendor metrics %+v", snap)
	}
	if snap.CreditsGranted != 100 {
		t.Fatalf("granted = %d", snap.CreditsGranted)
	}

	// Snapshot maps are copies.
	snap.Charges["music_convert_wav"] = 99
	if c.GetSnapshot().Charges["music_convert_wav"] != 2 {
		t.Fatalf("snapshot aliases collector state")
	}
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordRequestStart("/api/v1/music/generate")
	c.RecordRequest("/api/v1/music/generate", 5*time.Millisecond)
	c.RecordInsufficient("music_split_stem_full")
	c.RecordRateLimitHit()

	out := FormatPrometheus(c.GetSnapshot())
	for _, want := range []string{
		`dua_requests_total{endpoint="/api/v1/music/generate"} 1`,
		`dua_requests_in_progress{endpoint="/api/v1/music/generate"} 1`,
		`dua_insufficient_credits_total{operation="music_split_stem_full"} 1`,
		`dua_rate_limit_hits_total 1`,
		`# TYPE dua_credits_charged_total counter`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}
