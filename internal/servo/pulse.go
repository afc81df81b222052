package servo

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"servoctl/internal/board"
)

// MaxDuty is the full-scale value of the duty register.
const MaxDuty = board.MaxDuty

var ErrClosed = errors.New("servo: pulse controller closed")

// DutyCycle converts a pulse width into a fraction of periodUS expressed in
// units of 1/MaxDuty. Widths outside [0, periodUS] are clamped.
func DutyCycle(pulseUS, periodUS float64) uint16 {
	if !(pulseUS > 0) {
		return 0
	}
	if pulseUS >= periodUS {
		return MaxDuty
	}
	return uint16(math.Round(pulseUS / periodUS * MaxDuty))
}

type PulseConfig struct {
	Channel   int
	PeriodUS  float64
	NeutralUS int
}

// PulseController owns one board channel. It is released exactly once by
// Close, which first returns the channel to the neutral pulse.
type PulseController struct {
	cfg    PulseConfig
	logger *zap.SugaredLogger

	mu      sync.Mutex
	board   board.Board
	pulseUS int
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

func NewPulseController(b board.Board, cfg PulseConfig, logger *zap.SugaredLogger) (*PulseController, error) {
	if b == nil {
		return nil, errors.New("servo: board is nil")
	}
	if !(cfg.PeriodUS > 0) {
		return nil, errors.Errorf("servo: invalid period %vus", cfg.PeriodUS)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PulseController{cfg: cfg, board: b, logger: logger}, nil
}

// SetPulse holds the channel high for pulseUS of every period.
func (p *PulseController) SetPulse(pulseUS int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.setLocked(pulseUS)
}

func (p *PulseController) setLocked(pulseUS int) error {
	duty := DutyCycle(float64(pulseUS), p.cfg.PeriodUS)
	if err := p.board.SetDuty(p.cfg.Channel, duty); err != nil {
		return errors.Wrapf(err, "servo: set %dus on channel %d", pulseUS, p.cfg.Channel)
	}
	p.pulseUS = pulseUS
	p.logger.Debugw("pulse set", "channel", p.cfg.Channel, "pulse_us", pulseUS, "duty", duty)
	return nil
}

// Neutral commands the pulse that holds the servo still.
func (p *PulseController) Neutral() error {
	return p.SetPulse(p.cfg.NeutralUS)
}

// Pulse returns the last pulse width written, 0 before the first write.
func (p *PulseController) Pulse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pulseUS
}

// Close commands neutral and releases the board. Only the first call does
// anything; later calls return its result.
func (p *PulseController) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closeErr = multierr.Combine(p.setLocked(p.cfg.NeutralUS), p.board.Close())
		p.closed = true
		p.logger.Infow("pwm board released", "channel", p.cfg.Channel, "err", p.closeErr)
	})
	return p.closeErr
}
