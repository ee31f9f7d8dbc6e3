package analogin

import "sync"

// fakeConverter records every call. Conversions return 1000 plus the
// selected identifier so each channel's delivered value is recognisable.
type fakeConverter struct {
	mu       sync.Mutex
	enables  int
	selects  []int
	starts   int
	reads    int
	busy     int // IsBusy returns true this many more times
	selected int
}

func (f *fakeConverter) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enables++
}

func (f *fakeConverter) Select(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, id)
	f.selected = id
}

func (f *fakeConverter) StartConversion() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakeConverter) IsBusy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy > 0 {
		f.busy--
		return true
	}
	return false
}

func (f *fakeConverter) ReadResult() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return uint16(1000 + f.selected)
}

func (f *fakeConverter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enables + len(f.selects) + f.starts + f.reads
}

type fakeTimer struct {
	callbacks []func(uint32)
}

func (t *fakeTimer) RegisterPeriodic(fn func(uint32)) {
	t.callbacks = append(t.callbacks, fn)
}

func (t *fakeTimer) fire(tick uint32) {
	for _, fn := range t.callbacks {
		fn(tick)
	}
}

type fakeReporter struct {
	mu       sync.Mutex
	messages []string
	onReport func(n int)
}

func (r *fakeReporter) ReportFatal(msg string) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	n := len(r.messages)
	r.mu.Unlock()
	if r.onReport != nil {
		r.onReport(n)
	}
}

func (r *fakeReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
