// Package domain holds the records a render run hands to the outside
// world: the run summary published to Kafka and the place caption
// resolved by a geocoder.
//
// # Run summaries
//
// A summary is emitted once per successful run. Its ID is a random UUID;
// the Kafka message key is the scenario name, so runs of the same scenario
// land on the same partition in order. Pressures in the summary are the
// display values: negative results are clipped to zero before the
// min/max/mean are taken, matching what the rendered map shows.
//
// # Captions
//
// The map caption is the place name at the map centre, looked up by
// reverse geocoding. Lookup failures never fail a run; the caption is
// left empty and the source recorded as "failed".
package domain
