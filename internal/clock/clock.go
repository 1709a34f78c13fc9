package clock

import (
	"sync"
	"time"
)

// Clock выдает метки updatedAt для записей на сервере.
// Это гибрид физических и логических часов: метка равна текущему времени в миллисекундах,
// но никогда не меньше предыдущей метки + 1. Благодаря этому метки строго возрастают
// даже при скачках системного времени назад или нескольких записях в одну миллисекунду.
type Clock struct {
	now  func() time.Time // источник физического времени
	last int64            // последняя выданная метка
	mu   sync.Mutex
}

// New создает часы на основе системного времени.
func New() *Clock {
	return NewWithSource(time.Now)
}

// NewWithSource создает часы с заданным источником времени.
// Используется для тестирования.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Tick возвращает новую метку, строго большую всех ранее выданных.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Observe продвигает часы за метку, уже сохраненную в хранилище.
// Вызывается при старте сервера с максимальной меткой из БД, чтобы после
// перезапуска с отстающими часами не выдать метку из прошлого.
func (c *Clock) Observe(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts > c.last {
		c.last = ts
	}
}

// Last возвращает последнюю выданную метку без изменения состояния.
func (c *Clock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}
