package plccoms

import (
	"errors"
	"log/slog"
	"time"
)

// ClientOption configures a Client.
type ClientOption func(*clientConfig) error

// clientConfig holds the configuration for a Client.
type clientConfig struct {
	port             int
	connectTimeout   time.Duration
	requestTimeout   time.Duration
	listWindow       time.Duration
	reconnectEnabled bool
	delayStrategy    ReconnectDelayStrategy
	logger           *slog.Logger
	stateHandler     ConnectionStateHandler
}

// defaultConfig returns the default client configuration.
func defaultConfig() *clientConfig {
	return &clientConfig{
		port:             DefaultPort,
		connectTimeout:   10 * time.Second,
		requestTimeout:   5 * time.Second,
		listWindow:       10 * time.Second,
		reconnectEnabled: true,
		delayStrategy:    NewFixedDelayStrategy(DefaultReconnectInterval),
	}
}

// WithPort sets the TCP port to connect to. Default is 5010.
func WithPort(port int) ClientOption {
	return func(config *clientConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		config.port = port
		return nil
	}
}

// WithConnectTimeout sets the timeout for establishing a connection.
// Default is 10 seconds.
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(config *clientConfig) error {
		if timeout <= 0 {
			return errors.New("connect timeout must be positive")
		}
		config.connectTimeout = timeout
		return nil
	}
}

// WithRequestTimeout sets the default timeout for awaiting a GET or
// GETINFO response when the caller's context carries no deadline.
// Default is 5 seconds.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(config *clientConfig) error {
		if timeout <= 0 {
			return errors.New("request timeout must be positive")
		}
		config.requestTimeout = timeout
		return nil
	}
}

// WithListWindow sets how long ListVariables collects catalog entries.
// The protocol gives no end-of-catalog marker, so the call always blocks
// for the full window. Default is 10 seconds.
func WithListWindow(window time.Duration) ClientOption {
	return func(config *clientConfig) error {
		if window <= 0 {
			return errors.New("list window must be positive")
		}
		config.listWindow = window
		return nil
	}
}

// WithReconnect enables or disables automatic reconnection after an
// unexpected connection loss. Default is enabled.
func WithReconnect(enabled bool) ClientOption {
	return func(config *clientConfig) error {
		config.reconnectEnabled = enabled
		return nil
	}
}

// WithReconnectDelay sets a fixed delay between reconnection attempts.
// Default is 4 seconds.
func WithReconnectDelay(delay time.Duration) ClientOption {
	return func(config *clientConfig) error {
		if delay < 0 {
			return errors.New("reconnect delay must not be negative")
		}
		config.delayStrategy = NewFixedDelayStrategy(delay)
		return nil
	}
}

// WithReconnectDelayStrategy sets a custom reconnect delay strategy.
func WithReconnectDelayStrategy(strategy ReconnectDelayStrategy) ClientOption {
	return func(config *clientConfig) error {
		if strategy == nil {
			return errors.New("delay strategy must not be nil")
		}
		config.delayStrategy = strategy
		return nil
	}
}

// WithLogger sets a structured logger for debug and error logging.
// By default, no logging is performed.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(config *clientConfig) error {
		config.logger = logger
		return nil
	}
}

// WithConnectionStateHandler registers an observer for connection state
// transitions. The handler is invoked synchronously and must not call
// back into the client.
func WithConnectionStateHandler(handler ConnectionStateHandler) ClientOption {
	return func(config *clientConfig) error {
		config.stateHandler = handler
		return nil
	}
}
