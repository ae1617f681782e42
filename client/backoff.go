package client

import "time"

// reconnectDelay grows the wait between attempts so a long outage does not
// hammer the coordination service. attempt counts from 1.
func reconnectDelay(attempt int, base, cap time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
