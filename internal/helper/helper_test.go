package helper

import (
	"testing"
	"time"
)

func TestDecimalPlaces(t *testing.T) {
	cases := map[string]int{
		"0.000001": 6,
		"0.00010":  4,
		"1":        0,
		"0.01":     2,
		"":         0,
	}
	for in, want := range cases {
		if got := DecimalPlaces(in); got != want {
			t.Errorf("DecimalPlaces(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestFormatQty_TruncatesDown(t *testing.T) {
	cases := []struct {
		qty  float64
		prec int
		want string
	}{
		{0.0001239, 6, "0.000123"},
		{0.00009999, 6, "0.000099"},
		{1.5, 0, "1"},
		{0.1, 6, "0.100000"},
	}
	for _, c := range cases {
		if got := FormatQty(c.qty, c.prec); got != c.want {
			t.Errorf("FormatQty(%v, %d) = %s, want %s", c.qty, c.prec, got, c.want)
		}
	}
}

func TestParseNum(t *testing.T) {
	v, err := ParseNum("101500.25")
	if err != nil || v != 101500.25 {
		t.Fatalf("ParseNum = %v, %v", v, err)
	}
	if v, err := ParseNum(""); err != nil || v != 0 {
		t.Fatalf("empty ParseNum = %v, %v", v, err)
	}
	if _, err := ParseNum("abc"); err == nil {
		t.Fatal("expected error for garbage")
	}
}

func TestParseMillis(t *testing.T) {
	got := ParseMillis("1700000000123")
	if got.UnixMilli() != 1700000000123 {
		t.Fatalf("ParseMillis = %v", got.UnixMilli())
	}
	if !ParseMillis("").IsZero() {
		t.Fatal("empty string should give zero time")
	}
}

func TestHumanDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 секунд"},
		{time.Second, "1 секунда"},
		{42 * time.Second, "42 секунды"},
		{11 * time.Minute, "11 минут"},
		{21*time.Minute + 3*time.Second, "21 минута 3 секунды"},
		{2*time.Hour + 5*time.Minute, "2 часа 5 минут"},
		{25 * time.Hour, "1 день 1 час"},
		{5 * 24 * time.Hour, "5 дней"},
		{22*24*time.Hour + 12*time.Hour, "22 дня 12 часов"},
	}
	for _, c := range cases {
		if got := HumanDuration(c.d); got != c.want {
			t.Errorf("HumanDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
