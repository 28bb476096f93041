package client

// MediaEngine is the local player the sync controller drives. Implementations
// wrap whatever playback backend the application embeds; all methods are
// called with the controller's lock held and must not call back into the
// controller.
type MediaEngine interface {
	Position() float64
	Seek(positionSec float64)
	Play()
	Pause()
	Rate() float64
	SetRate(rate float64)
	IsPlaying() bool
}
