package bench

import (
	"context"
	"net/http"
	"testing"
	"time"
)

// BenchmarkRIEEndToEnd invokes the origin handler N times under the RIE and
// compares billed duration with the event loop's own invocation.metrics.
func BenchmarkRIEEndToEnd(b *testing.B) {
	requireE2E(b)
	// Keep setup cost out of the measured iterations
	b.StopTimer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	containerID := startContainer(b, ctx, "HANDLER_VARIANT=origin")
	client := &http.Client{Timeout: 15 * time.Second}
	payload := apiGatewayPayload(b, "203.0.113.5")

	// Warm-up one invocation to avoid cold-start skew in benchmark loop
	if _, err := invokeOnce(client, payload); err != nil {
		b.Fatalf("warm-up invoke failed: %v", err)
	}

	sinceTS := time.Now()
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		if _, err := invokeOnce(client, payload); err != nil {
			b.Fatalf("invoke failed: %v", err)
		}
	}
	b.StopTimer()

	// REPORT lines trail the responses slightly
	var logs string
	deadline := time.Now().Add(5 * time.Second)
	for {
		var err error
		logs, err = containerLogs(ctx, containerID, sinceTS)
		if err != nil {
			b.Fatalf("podman logs failed: %v", err)
		}
		if len(parseReportLines(logs)) >= b.N || time.Now().After(deadline) {
			break
		}
		time.Sleep(150 * time.Millisecond)
	}

	billed := parseReportLines(logs)
	internal := parseInvocationMetrics(logs)

	var (
		pairs       int
		sumBilled   float64
		sumInternal float64
		maxGap      float64
		minGap      = 1e9
	)
	for rid, im := range internal {
		rm, ok := billed[rid]
		if !ok {
			continue
		}
		if im.Outcome != "success" {
			b.Fatalf("invocation %s failed: %s", rid, im.ErrorType)
		}
		pairs++
		sumBilled += rm.BilledDurationMs
		sumInternal += float64(im.TotalMs)
		gap := rm.BilledDurationMs - float64(im.TotalMs)
		maxGap = max(maxGap, gap)
		minGap = min(minGap, gap)
	}
	if pairs == 0 {
		b.Fatalf("no matched request IDs between %d REPORT lines and %d invocation.metrics lines", len(billed), len(internal))
	}

	avgBilled := sumBilled / float64(pairs)
	avgInternal := sumInternal / float64(pairs)
	b.ReportMetric(avgBilled, "ms/billed_avg")
	b.ReportMetric(avgInternal, "ms/internal_avg")
	b.ReportMetric(avgBilled-avgInternal, "ms/gap_avg")
	b.ReportMetric(maxGap, "ms/gap_max")
	b.ReportMetric(minGap, "ms/gap_min")
	b.Logf("pairs=%d avg_billed=%.2fms avg_internal=%.2fms gap_avg=%.2fms gap_min=%.2fms gap_max=%.2fms",
		pairs, avgBilled, avgInternal, avgBilled-avgInternal, minGap, maxGap)
}

// BenchmarkRIEVariants reports the per-phase share of internal time for
// each handler variant.
func BenchmarkRIEVariants(b *testing.B) {
	requireE2E(b)
	for _, variant := range []string{"static", "origin"} {
		b.Run(variant, func(b *testing.B) {
			b.StopTimer()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			containerID := startContainer(b, ctx, "HANDLER_VARIANT="+variant)
			client := &http.Client{Timeout: 15 * time.Second}
			payload := apiGatewayPayload(b, "198.51.100.20")
			if _, err := invokeOnce(client, payload); err != nil {
				b.Fatalf("warm-up invoke failed: %v", err)
			}

			sinceTS := time.Now()
			b.StartTimer()
			for i := 0; i < b.N; i++ {
				if _, err := invokeOnce(client, payload); err != nil {
					b.Fatalf("invoke failed: %v", err)
				}
			}
			b.StopTimer()

			time.Sleep(500 * time.Millisecond)
			logs, err := containerLogs(ctx, containerID, sinceTS)
			if err != nil {
				b.Fatalf("podman logs failed: %v", err)
			}

			var n, next, unmarshal, handler, marshal, post, total float64
			for _, im := range parseInvocationMetrics(logs) {
				n++
				next += float64(im.NextMs)
				unmarshal += float64(im.UnmarshalMs)
				handler += float64(im.HandlerMs)
				marshal += float64(im.MarshalMs)
				post += float64(im.PostMs)
				total += float64(im.TotalMs)
			}
			if n == 0 {
				b.Fatal("no invocation.metrics lines found")
			}
			if total > 0 {
				b.ReportMetric(next/total*100, "pct/next_share")
				b.ReportMetric(unmarshal/total*100, "pct/unmarshal_share")
				b.ReportMetric(handler/total*100, "pct/handler_share")
				b.ReportMetric(marshal/total*100, "pct/marshal_share")
				b.ReportMetric(post/total*100, "pct/post_share")
			}
			b.ReportMetric(total/n, "ms/internal_avg")
		})
	}
}
