// Package features turns a noisy power-vs-time sequence into a Fingerprint.
//
// Only steady charging draw is considered: readings of at least
// model.ActiveThresholdKW. Ramp-up, ramp-down and idle readings below that
// floor are ignored unless nothing else is positive. Percentile statistics are
// kept next to the mean so single glitches do not dominate the fingerprint.
package features
