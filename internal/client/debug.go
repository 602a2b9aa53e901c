package client

import (
	"log"
	"os"
	"strings"
)

var streamDebugEnabled = strings.EqualFold(os.Getenv("FLIGHTCHAT_STREAM_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if streamDebugEnabled {
		log.Printf(format, args...)
	}
}
