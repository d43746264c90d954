package aggregate

// Чистые функции над снимком окна. Ничего не мутируют и безопасны для пересчёта
// на каждое изменение окна (при CAP=100 полный пересчёт дешевле инкрементального учёта).

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/xela07ax/attackmap/internal/domain"
)

const dateLayout = "2006-01-02"

// Options задаёт параметры, которые приходят от слоя отображения.
type Options struct {
	TopN     int            // <= 0: все страны
	Location *time.Location // Зона отображения, nil = time.Local
}

// Compute собирает все агрегаты для одного снимка.
func Compute(records []domain.AttackRecord, opts Options) domain.GlobalStats {
	return domain.GlobalStats{
		Total:        Total(records),
		TopCountries: TopCountries(records, opts.TopN),
		Trend:        Trend(records, opts.Location),
		HourOfDay:    HourOfDay(records, opts.Location),
		Source:       "local",
	}
}

func Total(records []domain.AttackRecord) int64 {
	return int64(len(records))
}

// TopCountries группирует по стране (пустая → Unknown), сортирует по убыванию,
// при равенстве выше та страна, что раньше встретилась в окне.
func TopCountries(records []domain.AttackRecord, n int) []domain.CountryCount {
	type group struct {
		firstSeen int
		count     int64
	}
	groups := make(map[string]*group)
	for i, r := range records {
		key := r.CountryOrUnknown()
		if g, ok := groups[key]; ok {
			g.count++
			continue
		}
		groups[key] = &group{firstSeen: i, count: 1}
	}

	result := make([]domain.CountryCount, 0, len(groups))
	for country, g := range groups {
		result = append(result, domain.CountryCount{Country: country, Count: g.count})
	}
	slices.SortFunc(result, func(a, b domain.CountryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(groups[a.Country].firstSeen, groups[b.Country].firstSeen)
	})

	if n > 0 && len(result) > n {
		result = result[:n]
	}
	return result
}

// Trend считает атаки по календарным датам в зоне отображения, по возрастанию даты.
func Trend(records []domain.AttackRecord, loc *time.Location) domain.AttackTrend {
	loc = orLocal(loc)

	counts := make(map[string]int64)
	for _, r := range records {
		counts[r.Timestamp.In(loc).Format(dateLayout)]++
	}

	points := make([]domain.DateCount, 0, len(counts))
	for date, c := range counts {
		points = append(points, domain.DateCount{Date: date, Count: c})
	}
	// ISO-формат даты сортируется лексикографически
	slices.SortFunc(points, func(a, b domain.DateCount) int { return cmp.Compare(a.Date, b.Date) })

	return domain.AttackTrend{
		Label:  fmt.Sprintf("Attacks (%d total)", len(records)),
		Points: points,
	}
}

// HourOfDay раскладывает записи по 24 часовым корзинам локального времени.
func HourOfDay(records []domain.AttackRecord, loc *time.Location) [24]int64 {
	loc = orLocal(loc)

	var series [24]int64
	for _, r := range records {
		series[r.Timestamp.In(loc).Hour()]++
	}
	return series
}

// HourCounts: та же гистограмма списком, как её отдаёт /charts/time-of-day/.
func HourCounts(series [24]int64) []domain.HourCount {
	out := make([]domain.HourCount, len(series))
	for h, c := range series {
		out[h] = domain.HourCount{Hour: h, Count: c}
	}
	return out
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
