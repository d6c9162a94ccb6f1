// Package export хранит состояние разблокировки и выпускает документ только
// после подтверждённой оплаты.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrLocked возвращается при попытке экспорта до оплаты.
var ErrLocked = errors.New("export is locked until payment is approved")

// Document описывает готовый к выводу документ резюме.
type Document struct {
	Name    string
	Content []byte
}

// Rasterizer превращает документ в файл для скачивания.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc Document, w io.Writer) error
}

// Flow описывает контроллер оплаты, которым управляет Gate.
type Flow interface {
	Open(ctx context.Context, email string, amount decimal.Decimal) error
	Done() <-chan struct{}
	Close()
	Err() error
}

// Gate хранит признак разблокировки в памяти процесса. Признак не сохраняется
// между запусками.
type Gate struct {
	rasterizer Rasterizer
	logger     *zap.Logger
	unlocked   atomic.Bool
}

// NewGate создаёт закрытый шлюз экспорта.
func NewGate(r Rasterizer, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{rasterizer: r, logger: logger}
}

// Unlock разблокирует экспорт. Передаётся контроллеру оплаты как обратный вызов.
func (g *Gate) Unlock() {
	if g.unlocked.CompareAndSwap(false, true) {
		g.logger.Info("export unlocked")
	}
}

// Unlocked сообщает, разблокирован ли экспорт.
func (g *Gate) Unlocked() bool {
	return g.unlocked.Load()
}

// Export передаёт документ растеризатору, если экспорт разблокирован.
func (g *Gate) Export(ctx context.Context, doc Document, w io.Writer) error {
	if !g.Unlocked() {
		return ErrLocked
	}

	if err := g.rasterizer.Rasterize(ctx, doc, w); err != nil {
		return fmt.Errorf("rasterize %s: %w", doc.Name, err)
	}

	g.logger.Info("document exported", zap.String("document", doc.Name))
	return nil
}

// Pay открывает оплату и ждёт её завершения. При отмене ctx оплата закрывается.
// Если экспорт уже разблокирован, оплата не запускается.
func (g *Gate) Pay(ctx context.Context, flow Flow, email string, amount decimal.Decimal) error {
	if g.Unlocked() {
		return nil
	}

	if err := flow.Open(ctx, email, amount); err != nil {
		return err
	}

	select {
	case <-flow.Done():
	case <-ctx.Done():
		flow.Close()
		if g.Unlocked() {
			return nil
		}
		return ctx.Err()
	}

	if g.Unlocked() {
		return nil
	}
	if err := flow.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrLocked
}

// CopyRasterizer записывает содержимое документа без преобразования. Подходит,
// когда документ уже отрисован внешним инструментом.
type CopyRasterizer struct{}

// Rasterize копирует содержимое документа в w.
func (CopyRasterizer) Rasterize(_ context.Context, doc Document, w io.Writer) error {
	_, err := w.Write(doc.Content)
	return err
}
