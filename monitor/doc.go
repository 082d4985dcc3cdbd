// Package monitor derives performance and health reports from job records.
//
// A [Monitor] only reads. Averages and error rates are computed over a
// trailing [Window]; queue sizes are instantaneous. Health and bottleneck
// thresholds come from the policy package.
package monitor
