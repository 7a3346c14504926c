package audio

// Drain reads from ch until it is closed, discarding every value. It keeps a
// producer goroutine from blocking forever when its output is no longer
// wanted (e.g. the audio of an interrupted reply).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
