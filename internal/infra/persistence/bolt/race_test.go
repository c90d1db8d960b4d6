//go:build race

package bolt

// boltdb/bolt v1.3.1 trips checkptr under the race detector
// ("converted pointer straddles multiple allocations").
const raceEnabled = true
