package refnum

import (
	"fmt"
	"strconv"
	"strings"
)

// Prefix — префикс читаемого номера заявки.
const Prefix = "SSR"

// Format форматирует номер заявки: SSR-<год>-<номер:03d>.
func Format(year, seq int) string {
	return fmt.Sprintf("%s-%d-%03d", Prefix, year, seq)
}

// Next возвращает следующий номер для года: максимальный существующий номер
// этого года + 1, либо 1, если номеров ещё нет. Номера других лет и мусорные
// строки игнорируются — нумерация начинается заново каждый календарный год.
func Next(year int, existing []string) string {
	max := 0
	prefix := fmt.Sprintf("%s-%d-", Prefix, year)
	for _, ref := range existing {
		if !strings.HasPrefix(ref, prefix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimPrefix(ref, prefix))
		if err != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return Format(year, max+1)
}
