package models

// Batch is the unit emitted for one write into a fingerprinter.
// TCodes and HCodes are parallel: TCodes[n] is the anchor frame stamp of
// hash HCodes[n].
type Batch struct {
	TCodes []int64  `json:"tcodes"`
	HCodes []uint64 `json:"hcodes"`
}

// Len returns the number of fingerprints in the batch.
func (b Batch) Len() int { return len(b.HCodes) }

// Empty reports whether the batch carries no fingerprints.
func (b Batch) Empty() bool { return len(b.HCodes) == 0 }

// Append adds a single fingerprint.
func (b *Batch) Append(tcode int64, hcode uint64) {
	b.TCodes = append(b.TCodes, tcode)
	b.HCodes = append(b.HCodes, hcode)
}

// Extend appends every fingerprint of other.
func (b *Batch) Extend(other Batch) {
	b.TCodes = append(b.TCodes, other.TCodes...)
	b.HCodes = append(b.HCodes, other.HCodes...)
}

// Fingerprint is a single landmark hash with its anchor time.
type Fingerprint struct {
	TCode   int64   `json:"tcode"`
	Seconds float64 `json:"seconds"`
	Hash    uint64  `json:"hash"`
}

// Fingerprints flattens a batch. dt is the duration of one tcode unit in seconds.
func Fingerprints(b Batch, dt float64) []Fingerprint {
	out := make([]Fingerprint, 0, b.Len())
	for i, h := range b.HCodes {
		out = append(out, Fingerprint{
			TCode:   b.TCodes[i],
			Seconds: float64(b.TCodes[i]) * dt,
			Hash:    h,
		})
	}
	return out
}
