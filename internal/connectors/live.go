package connectors

import "context"

// Sink получает события живого канала в порядке поступления.
// Вызовы идут из одной горутины источника.
type Sink interface {
	Connected()
	Message(raw []byte)
	Disconnected(err error)
}

// LiveSource держит одно подключение к живому каналу. Run блокируется,
// пока соединение живо: nil при отмене ctx, ошибка при обрыве.
// Disconnected вызывает не сам источник, а тот, кто его запустил.
type LiveSource interface {
	Run(ctx context.Context, sink Sink) error
}
