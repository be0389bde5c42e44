package input

import (
	"context"
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// hookSource maps host keyboard keys onto buttons so the daemon can be
// exercised on a desktop without a GPIO header. Lines are gohook key names
// such as "f9" or "h".
type hookSource struct {
	keys   []string
	log    *slog.Logger
	levels levelBits
	once   sync.Once
}

func newHookSource(opts Options, logger *slog.Logger) *hookSource {
	return &hookSource{keys: opts.Lines, log: logger}
}

func (s *hookSource) Start(ctx context.Context, signal func(pins uint32)) error {
	for i, key := range s.keys {
		pin := i
		bit := uint32(1) << pin
		hook.Register(hook.KeyDown, []string{key}, func(e hook.Event) {
			s.levels.set(pin, true)
			signal(bit)
		})
		hook.Register(hook.KeyUp, []string{key}, func(e hook.Event) {
			s.levels.set(pin, false)
			signal(bit)
		})
	}

	evChan := hook.Start()
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	go func() {
		<-hook.Process(evChan)
		s.log.Debug("[INPUT] key hook stopped")
	}()
	s.log.Info("[INPUT] desktop key hook active", "keys", s.keys)
	return nil
}

func (s *hookSource) Level(pin int) bool { return s.levels.get(pin) }

// Close ends the hook. It is safe to call multiple times.
func (s *hookSource) Close() error {
	s.once.Do(hook.End)
	return nil
}
