// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"

	applog "spectrogram/internal/log"
)

// LoggingTransport implements the Transport interface by logging data at
// debug level.
type LoggingTransport struct {
	logger *applog.Logger
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{logger: applog.Named("LoggingTransport")}
}

// Send logs data as JSON, or raw if it does not marshal.
func (lt *LoggingTransport) Send(data any) error {
	if applog.GetLevel() > applog.LevelDebug {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		lt.logger.Debugf("received (%T): %+v (JSON marshal error: %v)", data, data, err)
		return nil
	}
	lt.logger.Debugf("received (%T): %s", data, raw)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	lt.logger.Debugf("Close called")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
