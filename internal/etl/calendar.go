package etl

import (
	"fmt"
	"time"

	"github.com/staywise/dwh-pipeline/internal/schema"
	"github.com/staywise/dwh-pipeline/pkg/models"
)

// calendarRow builds the full attribute set for one day of the generated
// date dimension. date_key is the conventional YYYYMMDD integer.
func calendarRow(day time.Time) models.Record {
	quarter := (int(day.Month())-1)/3 + 1
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // ISO numbering, Monday=1
	}
	weekStart := day.AddDate(0, 0, -(weekday - 1))
	_, isoWeek := day.ISOWeek()

	return models.Record{
		"date_key":       int64(day.Year()*10000 + int(day.Month())*100 + day.Day()),
		"full_date":      day,
		"year":           int64(day.Year()),
		"quarter":        int64(quarter),
		"quarter_name":   fmt.Sprintf("Q%d %d", quarter, day.Year()),
		"month":          int64(day.Month()),
		"month_name":     day.Month().String(),
		"month_year":     fmt.Sprintf("%s %d", day.Month().String(), day.Year()),
		"week_of_year":   int64(isoWeek),
		"week_start":     weekStart,
		"week_end":       weekStart.AddDate(0, 0, 6),
		"day_of_month":   int64(day.Day()),
		"day_of_year":    int64(day.YearDay()),
		"day_of_week":    int64(weekday),
		"day_name":       day.Weekday().String(),
		"is_weekend":     weekday >= 6,
		"is_month_start": day.Day() == 1,
		"is_month_end":   day.AddDate(0, 0, 1).Month() != day.Month(),
	}
}

func calendarColumnNames() []string {
	return []string{
		SurrogateKeyColumn, "date_key", "full_date", "year", "quarter",
		"quarter_name", "month", "month_name", "month_year", "week_of_year",
		"week_start", "week_end", "day_of_month", "day_of_year",
		"day_of_week", "day_name", "is_weekend", "is_month_start",
		"is_month_end",
	}
}

func calendarColumns() []schema.ColumnSpec {
	return []schema.ColumnSpec{
		{Name: SurrogateKeyColumn, Type: models.TypeInt},
		{Name: "date_key", Type: models.TypeInt},
		{Name: "full_date", Type: models.TypeDate},
		{Name: "year", Type: models.TypeInt},
		{Name: "quarter", Type: models.TypeInt},
		{Name: "quarter_name", Type: models.TypeString},
		{Name: "month", Type: models.TypeInt},
		{Name: "month_name", Type: models.TypeString},
		{Name: "month_year", Type: models.TypeString},
		{Name: "week_of_year", Type: models.TypeInt},
		{Name: "week_start", Type: models.TypeDate},
		{Name: "week_end", Type: models.TypeDate},
		{Name: "day_of_month", Type: models.TypeInt},
		{Name: "day_of_year", Type: models.TypeInt},
		{Name: "day_of_week", Type: models.TypeInt},
		{Name: "day_name", Type: models.TypeString},
		{Name: "is_weekend", Type: models.TypeBool},
		{Name: "is_month_start", Type: models.TypeBool},
		{Name: "is_month_end", Type: models.TypeBool},
	}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
