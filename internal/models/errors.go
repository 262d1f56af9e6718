package models

import "github.com/pkg/errors"

var (
	// ErrTransientAPI: сеть, 5xx, таймаут, rate limit. Повторяется с бэкоффом.
	ErrTransientAPI = errors.New("transient api error")
	// ErrOrderRejected: биржа отклонила или отменила ордер. Без повторов.
	ErrOrderRejected = errors.New("order rejected")
	// ErrOrderUnconfirmed: статус Filled не получен за отведённые попытки.
	ErrOrderUnconfirmed = errors.New("order unconfirmed")
	// ErrInsufficientBalance: баланса меньше, чем записано в лоте.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrLedgerInconsistency: леджер не сходится с биржей.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
	// ErrTradingHalted: сработал kill-switch.
	ErrTradingHalted = errors.New("trading halted")
)
