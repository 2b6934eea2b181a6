package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Money денежная сумма в минорных единицах (центах).
// В JSON пишется числом с двумя знаками после точки: 100.00
type Money int64

// FromFloat переводит сумму в основных единицах в Money с округлением до цента
func FromFloat(v float64) Money {
	return Money(math.Round(v * 100))
}

// Float возвращает сумму в основных единицах
func (m Money) Float() float64 {
	return float64(m) / 100
}

// String форматирует сумму как "100.00"
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON пишет число с двумя знаками после точки
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON принимает число или строку с числом ("100.00")
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid money value %q: %w", string(data), err)
	}
	// значение должно помещаться в int64 центов
	if math.IsNaN(v) || math.Abs(v*100) >= math.MaxInt64 {
		return fmt.Errorf("money value %q out of range", string(data))
	}
	*m = FromFloat(v)
	return nil
}
