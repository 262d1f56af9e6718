package helper

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DecimalPlaces: число значащих знаков после запятой в шаге вида "0.000001".
func DecimalPlaces(step string) int {
	s := strings.TrimSpace(step)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return len(strings.TrimRight(s[i+1:], "0"))
}

// FloorQty обрезает количество вниз до precision знаков. Никогда не округляет вверх.
func FloorQty(qty float64, precision int) decimal.Decimal {
	if precision < 0 {
		precision = 0
	}
	return decimal.NewFromFloat(qty).Truncate(int32(precision))
}

// FormatQty: FloorQty строкой для тела ордера.
func FormatQty(qty float64, precision int) string {
	return FloorQty(qty, precision).StringFixed(int32(max(precision, 0)))
}

// ParseNum разбирает числовую строку биржи. Пустая строка, ноль.
func ParseNum(raw string) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// ParseMillis: время из строки миллисекунд unix.
func ParseMillis(raw string) time.Time {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsZero() {
		return time.Time{}
	}
	return time.UnixMilli(d.IntPart())
}

// HumanDuration: "1 день 2 часа 5 минут". Меньше минуты, секунды.
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, plural(days, "день", "дня", "дней"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "час", "часа", "часов"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "минута", "минуты", "минут"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "секунда", "секунды", "секунд"))
	}
	return strings.Join(parts, " ")
}

func plural(n int64, one, few, many string) string {
	form := many
	switch n10, n100 := n%10, n%100; {
	case n10 == 1 && n100 != 11:
		form = one
	case n10 >= 2 && n10 <= 4 && (n100 < 12 || n100 > 14):
		form = few
	}
	return fmt.Sprintf("%d %s", n, form)
}
