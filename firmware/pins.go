//go:build tinygo

package main

import "machine"

const (
	// LOOP_INTERVAL_MS is how often the controller is ticked. Sampling and
	// PID computation run at the controller's own sample period.
	LOOP_INTERVAL_MS = 50
	// SYNC_INTERVAL_MS is how often dirty settings are committed to flash.
	SYNC_INTERVAL_MS = 10000

	// NTC_SAMPLES is the number of ADC readings averaged per thermistor sample.
	NTC_SAMPLES = 8

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits

	// Output pins
	PIN_SSR  = machine.D7
	PIN_BELL = machine.D6

	// Input pins
	PIN_THERMISTOR = machine.A1
	PIN_ONEWIRE    = machine.D2
	PIN_TC_CS      = machine.D3

	// Serial configuration
	// One status line is at most ~50 bytes per sample period, far below
	// what 115200 baud carries.
	UART_BAUD_RATE = 115200
)
