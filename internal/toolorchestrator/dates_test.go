package toolorchestrator

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// aWednesday pins the reference date: 2026-07-29 is a Wednesday.
var aWednesday = time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

func TestResolveSimpleReferences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"YESTERDAY", "2026-07-28"},
		{"TODAY", "2026-07-29"},
		{"TOMORROW", "2026-07-30"},
		{"LAST WEEK", "2026-07-22"},
		{"NEXT WEEK", "2026-08-05"},
		{"last_week", "2026-07-22"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ResolveDateReference(tc.in, aWednesday), tc.in)
	}
}

func TestResolveDayNames(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		// Most recent past Tuesday before Wednesday 2026-07-29.
		{"LAST TUESDAY", "2026-07-28"},
		// Today is Wednesday: LAST WEDNESDAY means a week ago.
		{"LAST WEDNESDAY", "2026-07-22"},
		// THIS WEDNESDAY is today.
		{"THIS WEDNESDAY", "2026-07-29"},
		// THIS FRIDAY is this week's Friday.
		{"THIS FRIDAY", "2026-07-31"},
		// NEXT WEDNESDAY is a week ahead when today matches.
		{"NEXT WEDNESDAY", "2026-08-05"},
		// NEXT FRIDAY is next week's Friday, not the upcoming one.
		{"NEXT FRIDAY", "2026-08-07"},
		{"last monday", "2026-07-27"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ResolveDateReference(tc.in, aWednesday), tc.in)
	}
}

func TestResolvePassesThroughUnknown(t *testing.T) {
	require.Equal(t, "2026-01-15", ResolveDateReference("2026-01-15", aWednesday))
	require.Equal(t, "whenever", ResolveDateReference("whenever", aWednesday))
}

func TestIsDateReference(t *testing.T) {
	require.True(t, IsDateReference("yesterday"))
	require.True(t, IsDateReference("LAST TUESDAY"))
	require.True(t, IsDateReference("next_friday"))
	require.False(t, IsDateReference("2026-01-15"))
	require.False(t, IsDateReference("hello"))
}

func genDate() gopter.Gen {
	return gen.Int64Range(0, 20000).Map(func(days int64) time.Time {
		return time.Date(1990, 1, 1, 10, 0, 0, 0, time.UTC).AddDate(0, 0, int(days))
	})
}

func TestDateResolverLaws(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("YESTERDAY is exactly one day back", prop.ForAll(
		func(d time.Time) bool {
			return ResolveDateReference("YESTERDAY", d) == d.AddDate(0, 0, -1).Format("2006-01-02")
		},
		genDate(),
	))

	dayTokens := gen.OneConstOf("MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY", "SUNDAY")

	properties.Property("LAST <day> is the greatest matching date before today", prop.ForAll(
		func(d time.Time, day string) bool {
			resolved, err := time.Parse("2006-01-02", ResolveDateReference("LAST "+day, d))
			if err != nil {
				return false
			}
			if resolved.Weekday() != dayNames[day] {
				return false
			}
			diff := d.Truncate(24 * time.Hour).Sub(resolved)
			return diff >= 12*time.Hour && diff <= 7*24*time.Hour+12*time.Hour
		},
		genDate(),
		dayTokens,
	))

	properties.Property("THIS <day> lands within this week and matches the weekday", prop.ForAll(
		func(d time.Time, day string) bool {
			resolved, err := time.Parse("2006-01-02", ResolveDateReference("THIS "+day, d))
			if err != nil {
				return false
			}
			days := int(resolved.Sub(d.Truncate(24*time.Hour)).Hours() / 24)
			return resolved.Weekday() == dayNames[day] && days >= 0 && days <= 6
		},
		genDate(),
		dayTokens,
	))

	properties.Property("NEXT <day> is strictly more than today and at most 14 days out", prop.ForAll(
		func(d time.Time, day string) bool {
			resolved, err := time.Parse("2006-01-02", ResolveDateReference("NEXT "+day, d))
			if err != nil {
				return false
			}
			days := int(resolved.Sub(d.Truncate(24*time.Hour)).Hours() / 24)
			return resolved.Weekday() == dayNames[day] && days >= 1 && days <= 14
		},
		genDate(),
		dayTokens,
	))

	properties.TestingRun(t)
}
