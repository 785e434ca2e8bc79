package main

import (
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// notifySystemd reports a service state when running under a systemd unit
// with Type=notify. Outside systemd it does nothing.
func notifySystemd(logger zerolog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn().Err(err).Str("state", state).Msg("systemd notify failed")
		return
	}
	if sent {
		logger.Debug().Str("state", state).Msg("systemd notified")
	}
}
