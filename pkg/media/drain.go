package media

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when you don't need the data from a
// streaming channel (e.g., the Frames channel of an [AudioTrack] that is
// being torn down).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
