// Package sim drives whole consensus clusters in one process: it builds the
// validators, joins them over the in-process bus, assigns behavior policies,
// and records every decision. Scenario constructors package the interesting
// runs (all honest, coordinated equivocation, random garbage, invalid
// proposer), and SafetyCheck/LivenessCheck turn a finished run into a
// verdict.
package sim
