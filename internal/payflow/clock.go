package payflow

import "time"

// Clock создаёт таймеры для опроса и задержки перед разблокировкой.
type Clock interface {
	NewTimer(d time.Duration) Timer
}

// Timer повторяет нужную часть time.Timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realClock struct{}

func (realClock) NewTimer(d time.Duration) Timer {
	return realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) C() <-chan time.Time {
	return r.t.C
}

func (r realTimer) Stop() bool {
	return r.t.Stop()
}
