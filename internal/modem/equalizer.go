package modem

// Equalizer compensates a received symbol for a single-tap channel gain.
type Equalizer interface {
	Equalize(received, gain complex128) complex128
}

// Passthrough hands the received symbol to the detector unchanged. Used on
// the AWGN channel where there is no fading to undo.
type Passthrough struct{}

// Equalize returns received.
func (Passthrough) Equalize(received, _ complex128) complex128 {
	return received
}

// ZeroForcing divides by the channel gain, which is assumed to be known
// exactly at the receiver. No estimation error is modelled.
type ZeroForcing struct{}

// Equalize performs single-tap zero-forcing equalization: y/h = x + n/h.
func (ZeroForcing) Equalize(received, gain complex128) complex128 {
	if gain == 0 {
		return received
	}
	return received / gain
}
