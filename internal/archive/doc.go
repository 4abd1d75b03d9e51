// Package archive persists realtime measurement traffic to InfluxDB.
//
// The sink listens on a realtime channel and converts measurement and
// threshold events into time-series points. It is an optional component:
// when archiving is disabled in configuration, Connect returns nil and
// the rest of the system runs unchanged.
package archive
