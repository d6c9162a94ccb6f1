// Package payflow реализует контроллер оплаты: создание платежа Pix, опрос его
// статуса и однократную разблокировку экспорта после подтверждения.
package payflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cvbuilder-pay/internal/model"
)

// Значения по умолчанию для интервалов контроллера.
const (
	DefaultPollInterval   = 4 * time.Second
	DefaultApprovalDelay  = 1500 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
)

var (
	// ErrAlreadyOpened возвращается при повторном открытии контроллера.
	ErrAlreadyOpened = errors.New("payment flow already opened")
	// ErrClosed возвращается при открытии уже закрытого контроллера.
	ErrClosed = errors.New("payment flow closed")
	// ErrChargeRejected означает, что платёжная система отклонила платёж.
	ErrChargeRejected = errors.New("payment rejected")
)

// State описывает состояние контроллера оплаты.
type State int

const (
	StateIdle State = iota
	StateCreating
	StateAwaitingPayment
	StateApproved
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreating:
		return "creating"
	case StateAwaitingPayment:
		return "awaiting_payment"
	case StateApproved:
		return "approved"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsTerminal сообщает, завершилась ли работа контроллера в этом состоянии.
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateFailed || s == StateClosed
}

// Proxy описывает операции платёжного прокси, нужные контроллеру.
type Proxy interface {
	CreateCharge(ctx context.Context, email string, amount decimal.Decimal) (*model.Charge, error)
	ChargeStatus(ctx context.Context, id string) (model.ChargeStatus, error)
}

// CreationError описывает неудачное создание платежа.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string {
	return "create charge: " + e.Err.Error()
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

// UserMessage возвращает сообщение об ошибке, которое можно показать пользователю.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrChargeRejected) {
		return "Payment was rejected. Please try again with another payment."
	}

	var safe interface{ UserMessage() string }
	if errors.As(err, &safe) {
		if msg := safe.UserMessage(); msg != "" {
			return msg
		}
	}

	return "Could not create the Pix payment. Please try again later."
}

type options struct {
	pollInterval   time.Duration
	approvalDelay  time.Duration
	requestTimeout time.Duration
	clock          Clock
	logger         *zap.Logger
}

// Option настраивает контроллер.
type Option func(*options)

// WithPollInterval задаёт интервал между запросами статуса.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithApprovalDelay задаёт паузу между подтверждением платежа и разблокировкой.
func WithApprovalDelay(d time.Duration) Option {
	return func(o *options) { o.approvalDelay = d }
}

// WithRequestTimeout ограничивает длительность каждого запроса к прокси.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithClock подменяет источник таймеров.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger задаёт логгер контроллера.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Controller проводит одну попытку оплаты от открытия до конечного состояния.
// Один экземпляр открывается не более одного раза.
type Controller struct {
	proxy  Proxy
	unlock func()
	opts   options

	mu     sync.Mutex
	state  State
	charge *model.Charge
	err    error
	opened bool
	closed bool
	cancel context.CancelFunc
	done   chan struct{}

	unlockOnce sync.Once
}

// New создаёт контроллер. unlock вызывается не более одного раза после
// подтверждения платежа.
func New(proxy Proxy, unlock func(), opts ...Option) *Controller {
	o := options{
		pollInterval:   DefaultPollInterval,
		approvalDelay:  DefaultApprovalDelay,
		requestTimeout: DefaultRequestTimeout,
		clock:          realClock{},
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Controller{
		proxy:  proxy,
		unlock: unlock,
		opts:   o,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

// Open создаёт платёж и запускает опрос статуса в фоне.
func (c *Controller) Open(ctx context.Context, email string, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.opened {
		return ErrAlreadyOpened
	}

	c.opened = true
	c.state = StateCreating

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(runCtx, cancel, email, amount)

	return nil
}

// Close останавливает опрос и ждёт завершения фоновой работы. Таймеры,
// запущенные контроллером, к моменту возврата остановлены.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true

	if !c.opened {
		c.state = StateClosed
		close(c.done)
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	<-c.done
}

// Done закрывается, когда контроллер достиг конечного состояния.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// State возвращает текущее состояние.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Charge возвращает копию созданного платежа или nil.
func (c *Controller) Charge() *model.Charge {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.charge == nil {
		return nil
	}
	cp := *c.charge
	return &cp
}

// Err возвращает причину перехода в StateFailed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, email string, amount decimal.Decimal) {
	defer close(c.done)
	defer cancel()

	logger := c.opts.logger

	charge, err := c.create(ctx, email, amount)
	if err != nil {
		if ctx.Err() != nil {
			c.finish(StateClosed, nil)
			return
		}
		logger.Warn("create charge failed", zap.Error(err))
		c.finish(StateFailed, &CreationError{Err: err})
		return
	}

	c.mu.Lock()
	c.charge = charge
	c.state = StateAwaitingPayment
	c.mu.Unlock()

	logger.Info("charge created", zap.String("charge_id", charge.ID), zap.String("status", string(charge.Status)))

	for {
		if !c.wait(ctx, c.opts.pollInterval) {
			c.finish(StateClosed, nil)
			return
		}

		status, err := c.poll(ctx, charge.ID)
		if ctx.Err() != nil {
			c.finish(StateClosed, nil)
			return
		}

		switch Classify(status, err) {
		case OutcomeApproved:
			c.advance(status)
			c.finish(StateApproved, nil)
			logger.Info("payment approved", zap.String("charge_id", charge.ID))

			// Закрытие во время паузы не отменяет разблокировку оплаченного платежа.
			c.wait(ctx, c.opts.approvalDelay)
			c.fireUnlock()
			return
		case OutcomeFailed:
			c.advance(status)
			c.finish(StateFailed, ErrChargeRejected)
			logger.Info("payment rejected", zap.String("charge_id", charge.ID), zap.String("status", string(status)))
			return
		default:
			if err != nil {
				logger.Debug("status check failed, will retry", zap.String("charge_id", charge.ID), zap.Error(err))
				continue
			}
			if !status.IsTerminal() {
				c.advance(status)
			}
		}
	}
}

func (c *Controller) create(ctx context.Context, email string, amount decimal.Decimal) (*model.Charge, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.requestTimeout)
	defer cancel()
	return c.proxy.CreateCharge(ctx, email, amount)
}

func (c *Controller) poll(ctx context.Context, id string) (model.ChargeStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.requestTimeout)
	defer cancel()
	return c.proxy.ChargeStatus(ctx, id)
}

// wait ждёт d и возвращает false, если контекст отменён раньше.
func (c *Controller) wait(ctx context.Context, d time.Duration) bool {
	t := c.opts.clock.NewTimer(d)
	select {
	case <-ctx.Done():
		t.Stop()
		return false
	case <-t.C():
		return true
	}
}

func (c *Controller) advance(status model.ChargeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.charge != nil {
		c.charge.Advance(status)
	}
}

func (c *Controller) finish(state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.err = err
}

func (c *Controller) fireUnlock() {
	c.unlockOnce.Do(func() {
		if c.unlock != nil {
			c.unlock()
		}
		c.opts.logger.Info("export unlocked")
	})
}
