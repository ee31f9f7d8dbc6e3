package analogin

// Converter is the shared conversion unit all channels are multiplexed onto.
// Implementations must not block: every method is called from the periodic
// tick.
type Converter interface {
	// Enable powers up the converter. Called once, on first registration.
	Enable()
	// Select routes the input multiplexer to the given identifier.
	Select(id int)
	// StartConversion begins a conversion on the selected input.
	StartConversion()
	// IsBusy reports whether a started conversion is still in progress.
	IsBusy() bool
	// ReadResult returns the result of the last completed conversion.
	ReadResult() uint16
}

// Timer invokes registered callbacks at a fixed cadence from a single
// periodic context.
type Timer interface {
	RegisterPeriodic(fn func(tick uint32))
}

// FaultReporter receives unrecoverable conditions.
type FaultReporter interface {
	ReportFatal(msg string)
}

// Source is the read side of a channel as seen by upper layers.
type Source interface {
	ID() int
	Raw() uint16
}

// Ensure Channel implements Source.
var _ Source = (*Channel)(nil)
