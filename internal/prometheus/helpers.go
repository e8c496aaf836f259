package prometheus

import (
	"time"
)

type ObserveFunc func() time.Duration

func probeMode(restricted bool) string {
	if restricted {
		return "restricted"
	}
	return "full"
}
