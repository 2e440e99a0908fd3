// Package domain models natural-hazard events ingested from the USGS
// earthquake feeds.
//
// # Data Source
//
// Events originate from the USGS GeoJSON summary feeds at
// https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/, one file per
// magnitude-filter/period combination (e.g. "2.5_hour.geojson",
// "significant_day.geojson"). Each feature carries a provider-assigned id
// that is globally unique per source and serves as the deduplication key:
// the same event appears in overlapping feed windows across fetches, and
// the ingestion use case must persist it exactly once.
//
// # Severity Classification
//
// Magnitude maps onto a four-level alert tier. Boundaries are inclusive on
// the lower bound of each tier:
//
//	LOW      < 4.0
//	MEDIUM   [4.0, 5.5)
//	HIGH     [5.5, 7.0)
//	CRITICAL ≥ 7.0
//
// A magnitude of 5.0 or greater is "significant" and raises an additional
// alert event alongside the detection event. Classification is total over
// the real line; input sanity is the feed adapter's concern.
//
// # Depth Convention
//
// Depth is kilometers below the surface and non-negative by convention.
// USGS reports small negative depths for events resolved slightly above the
// reference ellipsoid; [BuildEvent] clamps those to zero rather than
// rejecting the record.
package domain
