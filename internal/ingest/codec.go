package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/attackmap/internal/domain"
)

type MessageType string

const (
	TypeLogs MessageType = "logs" // Батч новых записей, newest-first
	TypePing MessageType = "ping" // Keep-alive, без данных
)

var (
	ErrMalformedPayload   = errors.New("ingest: malformed payload")
	ErrUnknownMessageType = errors.New("ingest: unknown message type")
	ErrInvalidRecord      = errors.New("ingest: invalid record")
)

type Message struct {
	Type    MessageType
	Records []domain.AttackRecord
	Dropped int // Записи батча, отброшенные как невалидные
}

type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Имена полей WireRecord совпадают с колонками failed_logins.
// Опциональные поля разбираются мягко: неверный тип обнуляет поле, а не запись.
type WireRecord struct {
	ID        string         `json:"id,omitempty"` // Игнорируется: идентичность выдаётся при ингесте
	IPAddress string         `json:"ip_address"`
	Timestamp string         `json:"timestamp"`
	Port      OptionalInt    `json:"port"`
	City      OptionalString `json:"city"`
	Region    OptionalString `json:"region"`
	Country   OptionalString `json:"country"`
	Latitude  Coordinate     `json:"latitude"`
	Longitude Coordinate     `json:"longitude"`
	Attempts  OptionalInt    `json:"attempts"`
}

// Coordinate принимает число, null или строку ("NaN", "12.5").
// Всё остальное превращается в отсутствующую координату.
type Coordinate struct {
	Value *float64
}

func (c *Coordinate) UnmarshalJSON(b []byte) error {
	c.Value = nil
	b = bytes.TrimSpace(b)
	var f float64
	if err := json.Unmarshal(b, &f); err == nil && !bytes.Equal(b, []byte("null")) {
		c.Value = &f
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		c.Value = &f
	}
	return nil
}

// OptionalInt принимает целое число или строку с целым ("22").
// Дробное значение, другой тип или null дают nil.
type OptionalInt struct {
	Value *int
}

func (o *OptionalInt) UnmarshalJSON(b []byte) error {
	o.Value = nil
	var f float64
	if err := json.Unmarshal(b, &f); err == nil && !bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		if f == math.Trunc(f) && math.Abs(f) <= math.MaxInt32 {
			n := int(f)
			o.Value = &n
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		o.Value = &n
	}
	return nil
}

func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// OptionalString: не-строковое значение считается отсутствующим.
type OptionalString struct {
	Value *string
}

func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Value = nil
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		o.Value = &s
	}
	return nil
}

func (o OptionalString) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	if c.Value == nil || math.IsNaN(*c.Value) || math.IsInf(*c.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(*c.Value)
}

// DecodeMessage разбирает сообщение живого канала. Ошибка означает,
// что сообщение целиком отбрасывается.
func DecodeMessage(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch env.Type {
	case TypePing:
		return Message{Type: TypePing}, nil
	case TypeLogs:
		records, dropped, err := DecodeRecords(env.Data)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeLogs, Records: records, Dropped: dropped}, nil
	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

// DecodeRecords разбирает JSON-массив записей (ответ /logs/ или data батча).
// Невалидные записи отбрасываются поштучно, их число возвращается в dropped.
func DecodeRecords(raw []byte) (records []domain.AttackRecord, dropped int, err error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, fmt.Errorf("%w: expected array of records: %v", ErrMalformedPayload, err)
	}

	records = make([]domain.AttackRecord, 0, len(items))
	for _, item := range items {
		var w WireRecord
		if err := json.Unmarshal(item, &w); err != nil {
			dropped++
			continue
		}
		r, err := w.Record()
		if err != nil {
			dropped++
			continue
		}
		records = append(records, r)
	}
	return records, dropped, nil
}

// Record проверяет обязательные поля и приводит запись к доменной модели.
func (w WireRecord) Record() (domain.AttackRecord, error) {
	ip := strings.TrimSpace(w.IPAddress)
	if ip == "" {
		return domain.AttackRecord{}, fmt.Errorf("%w: missing ip_address", ErrInvalidRecord)
	}
	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return domain.AttackRecord{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	attempts := 1
	if w.Attempts.Value != nil && *w.Attempts.Value > 0 {
		attempts = *w.Attempts.Value
	}

	return domain.AttackRecord{
		ID:        uuid.NewString(),
		IPAddress: ip,
		Timestamp: ts,
		Port:      w.Port.Value,
		City:      deref(w.City.Value),
		Region:    deref(w.Region.Value),
		Country:   deref(w.Country.Value),
		Latitude:  w.Latitude.Value,
		Longitude: w.Longitude.Value,
		Attempts:  attempts,
	}, nil
}

// EncodeRecord нужен эмулятору бэкенда.
// Timestamp пишется без зоны, как его отдаёт исходный бэкенд.
func EncodeRecord(r domain.AttackRecord) WireRecord {
	attempts := r.Weight()
	return WireRecord{
		IPAddress: r.IPAddress,
		Timestamp: r.Timestamp.UTC().Format("2006-01-02T15:04:05.000000"),
		Port:      OptionalInt{Value: r.Port},
		City:      OptionalString{Value: ref(r.City)},
		Region:    OptionalString{Value: ref(r.Region)},
		Country:   OptionalString{Value: ref(r.Country)},
		Latitude:  Coordinate{Value: r.Latitude},
		Longitude: Coordinate{Value: r.Longitude},
		Attempts:  OptionalInt{Value: &attempts},
	}
}

// EncodeBatch собирает сообщение {"type":"logs","data":[...]}.
func EncodeBatch(records []domain.AttackRecord) ([]byte, error) {
	wire := make([]WireRecord, len(records))
	for i, r := range records {
		wire[i] = EncodeRecord(r)
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: TypeLogs, Data: data})
}

var PingMessage = []byte(`{"type":"ping"}`)

// Форматы с зоной и без неё. Без зоны время считается UTC.
var (
	zonedLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05.999999999Z07:00"}
	naiveLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05"}
)

const syslogLayout = "Jan _2 15:04:05"

// ParseTimestamp нормализует любой поддерживаемый формат к UTC.
func ParseTimestamp(s string) (time.Time, error) {
	return parseTimestamp(s, time.Now().UTC())
}

func parseTimestamp(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	// Формат auth.log без года: берём текущий год, а будущее относим к прошлому году
	if t, err := time.ParseInLocation(syslogLayout, s, time.UTC); err == nil {
		t = t.AddDate(now.Year(), 0, 0)
		if t.After(now.Add(24 * time.Hour)) {
			t = t.AddDate(-1, 0, 0)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
