package svc

import "errors"

// ErrNoExchangeConfigured no exchange client is enabled, so sync is unavailable
var ErrNoExchangeConfigured = errors.New("no exchange client configured")

// ErrStorageInitFailed the ledger backend could not be opened
var ErrStorageInitFailed = errors.New("storage initialization failed")
