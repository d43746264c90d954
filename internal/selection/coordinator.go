package selection

import (
	"github.com/xela07ax/attackmap/internal/history"
	"go.uber.org/zap"
)

// State — Unselected (ID == "") или Selected(ID).
type State struct {
	ID string `json:"id,omitempty"`
}

func (s State) Selected() bool { return s.ID != "" }

// Is проверяет, выделена ли запись с данным id.
func (s State) Is(id string) bool { return s.ID != "" && s.ID == id }

// Source — кто инициировал смену выделения (для логов и метрик).
type Source string

const (
	SourceList     Source = "list"
	SourceMap      Source = "map"
	SourceAPI      Source = "api"
	SourceEviction Source = "eviction"
)

// Listener вызывается синхронно после каждого фактического изменения состояния.
type Listener func(prev, next State, source Source)

// Coordinator владеет SelectionState. Не потокобезопасен: все вызовы идут
// из цикла событий engine.Core, как и мутации history.Store.
type Coordinator struct {
	current   State
	listeners []Listener
	logger    *zap.Logger
}

func NewCoordinator(logger *zap.Logger) *Coordinator {
	return &Coordinator{logger: logger.Named("selection")}
}

func (c *Coordinator) Subscribe(l Listener) {
	c.listeners = append(c.listeners, l)
}

func (c *Coordinator) Current() State { return c.current }

// Select переводит в Selected(id) из любого состояния.
// Запись может уже отсутствовать в окне.
func (c *Coordinator) Select(id string, source Source) {
	if id == "" {
		c.Clear(source)
		return
	}
	c.transition(State{ID: id}, source)
}

func (c *Coordinator) Clear(source Source) {
	c.transition(State{}, source)
}

// OnEvicted сбрасывает выделение, если выделенная запись ушла из окна.
// Возвращает true, если выделение было сброшено.
func (c *Coordinator) OnEvicted(evicted history.IDSet) bool {
	if !c.current.Selected() || !evicted.Has(c.current.ID) {
		return false
	}
	c.logger.Debug("selected record evicted from window", zap.String("id", c.current.ID))
	c.transition(State{}, SourceEviction)
	return true
}

func (c *Coordinator) transition(next State, source Source) {
	prev := c.current
	if prev == next {
		return
	}
	c.current = next
	for _, l := range c.listeners {
		l(prev, next, source)
	}
}
