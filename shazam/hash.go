package shazam

// Hash packs a landmark pair: the earlier peak's bin, the later (anchor)
// peak's bin and their frame distance, in base bins = NFFT/2:
//
//	hash = earlier + bins*(later + bins*delta)
type Hash uint64

// PackHash builds the hash of a pair for a spectrum of bins bins.
func PackHash(earlier, later, delta, bins int) Hash {
	b := uint64(bins)
	return Hash(uint64(earlier) + b*(uint64(later)+b*uint64(delta)))
}

// Unpack splits h back into its bins and frame distance.
func (h Hash) Unpack(bins int) (earlier, later, delta int) {
	b := uint64(bins)
	v := uint64(h)
	earlier = int(v % b)
	later = int((v / b) % b)
	delta = int(v / (b * b))
	return earlier, later, delta
}
