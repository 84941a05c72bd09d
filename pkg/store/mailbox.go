package store

import "github.com/sparedes88/projector/pkg/broadcast"

// offerLatest puts s into a one-slot channel, replacing any undelivered
// value. Each watch channel has exactly one sender.
func offerLatest(ch chan broadcast.Screen, s broadcast.Screen) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
