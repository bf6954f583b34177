//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"

	"github.com/itohio/ospid/pkg/actuator"
	"github.com/itohio/ospid/pkg/controller"
	"github.com/itohio/ospid/pkg/link"
	"github.com/itohio/ospid/pkg/sensor"
	"tinygo.org/x/drivers/ds18b20"
	"tinygo.org/x/drivers/onewire"
)

var (
	uart = machine.UART0

	// Serial buffer for reading command lines
	serialBuffer [32]byte
	serialPos    int
)

func main() {
	PIN_SSR.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_BELL.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_TC_CS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_TC_CS.High()

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	flash, err := newFlashStore(machine.Flash, controller.StorageSize)
	if err != nil {
		halt(err)
	}
	store, err := controller.NewStore(flash)
	if err != nil {
		halt(err)
	}

	in, err := store.LoadInput(sensor.DefaultSettings())
	if err != nil {
		halt(err)
	}
	outSettings, err := store.LoadOutput(actuator.DefaultSettings())
	if err != nil {
		halt(err)
	}

	cfg := controller.DefaultConfig()
	input, output := newIO(in, outSettings)
	ctrl, err := controller.New(cfg, store, in.Calibrate(input, cfg.Unit), output)
	if err != nil {
		halt(err)
	}

	var lastReport, lastSync time.Time
	for {
		now := time.Now()

		if line, ok := readLine(); ok {
			println(link.Handle(ctrl, line, now))
		}

		st := ctrl.Tick(now)
		if now.Sub(lastReport) >= cfg.SamplePeriod {
			println(link.FormatStatus(st))
			lastReport = now
		}
		PIN_BELL.Set(st.Notify || st.Tripped)

		if now.Sub(lastSync) >= SYNC_INTERVAL_MS*time.Millisecond {
			if err := flash.sync(); err != nil {
				println("ERR", err.Error())
			}
			lastSync = now
		}

		time.Sleep(LOOP_INTERVAL_MS * time.Millisecond)
	}
}

// newIO builds the sensor selected in the stored input settings and the
// relay output. The simulated input is driven by the output instead of
// the relay.
func newIO(in sensor.Settings, out actuator.Settings) (sensor.Sensor, actuator.Output) {
	ssr := actuator.NewSSR(PIN_SSR, out.Window)

	switch in.Kind {
	case sensor.Thermocouple:
		machine.SPI0.Configure(machine.SPIConfig{Frequency: 4000000})
		return sensor.NewMAX31855(machine.SPI0, PIN_TC_CS), ssr
	case sensor.OneWire:
		probe := ds18b20.New(onewire.New(PIN_ONEWIRE))
		return sensor.NewDS18B20(&probe, nil), ssr
	case sensor.Simulated:
		plant := sensor.NewSimulator(in.Plant, uint64(time.Now().UnixNano()))
		return plant, &actuator.Simulated{Plant: plant}
	}

	machine.InitADC()
	PIN_THERMISTOR.Configure(machine.PinConfig{Mode: machine.PinInput})
	adc := machine.ADC{Pin: PIN_THERMISTOR}
	adc.Configure(machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	})
	return sensor.NewNTC(adc, in.Thermistor, NTC_SAMPLES), ssr
}

// readLine collects UART bytes and returns a complete line once a newline
// arrives. Overlong lines are dropped.
func readLine() (string, bool) {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			n := serialPos
			serialPos = 0
			if n > 0 && n <= len(serialBuffer) {
				return string(serialBuffer[:n]), true
			}
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
		}
		serialPos++
	}
	return "", false
}

func halt(err error) {
	for {
		println("ERR", err.Error())
		time.Sleep(time.Second)
	}
}
