package auction

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/artsfund/auction-engine/internal/auction")

// Engine counters. Creation through the global meter delegates to
// whichever provider telemetry.Setup installs later.
var (
	bidsAcceptedCounter, _ = meter.Int64Counter("auction.bids.accepted",
		metric.WithDescription("Bids appended to a ledger, by origin"))
	bidsRejectedCounter, _ = meter.Int64Counter("auction.bids.rejected",
		metric.WithDescription("Bids rejected by validation"))
	extensionsCounter, _ = meter.Int64Counter("auction.extensions",
		metric.WithDescription("Auto-extensions of an auction end time"))
	closuresCounter, _ = meter.Int64Counter("auction.closures",
		metric.WithDescription("Auctions reaching their terminal closed state, by outcome"))
	conflictRetriesCounter, _ = meter.Int64Counter("auction.conflict_retries",
		metric.WithDescription("Commands retried after an event store version conflict"))
)

func originAttr(origin Origin) metric.AddOption {
	return metric.WithAttributes(attribute.String("origin", string(origin)))
}

func outcomeAttr(outcome Outcome) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", string(outcome)))
}
