package sensor

// Fault is a sensor fault code. It is comparable and implements error.
type Fault string

func (f Fault) Error() string { return string(f) }

const (
	FaultOpen     Fault = "open_circuit"
	FaultShortGND Fault = "short_to_gnd"
	FaultShortVCC Fault = "short_to_vcc"
	FaultUnknown  Fault = "unknown_fault"
	FaultBus      Fault = "bus_error"
	FaultRange    Fault = "out_of_range"
)
