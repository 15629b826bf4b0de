package natsbridge

// Watching returns the number of running scope watchers.
func (b *Bridge) Watching() int {
	return int(b.watching.Load())
}
