package board

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DutyWrite is one SetDuty call recorded by Sim.
type DutyWrite struct {
	Channel int
	Duty    uint16
}

// Sim is a board with no hardware behind it. It logs and records every
// write, which makes it usable as a dry run and as a test double.
type Sim struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	writes []DutyWrite
	closes int
}

func NewSim(logger *zap.SugaredLogger) *Sim {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sim{logger: logger}
}

func (s *Sim) SetDuty(channel int, duty uint16) error {
	if channel < 0 || channel > 15 {
		return errors.Errorf("board: channel %d out of range 0..15", channel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return errors.New("board: sim is closed")
	}
	s.writes = append(s.writes, DutyWrite{Channel: channel, Duty: duty})
	s.logger.Debugw("sim duty", "channel", channel, "duty", duty)
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.logger.Debugw("sim closed")
	return nil
}

// Writes returns a copy of every recorded write in order.
func (s *Sim) Writes() []DutyWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DutyWrite(nil), s.writes...)
}

// Closes reports how many times Close was called.
func (s *Sim) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
