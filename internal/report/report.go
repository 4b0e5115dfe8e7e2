package report

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hassanrakib/zitbo-server/internal/domain"
)

const localDateLayout = "2006-01-02"

// maxBuckets bounds a single request; a year of days is more than any
// dashboard view asks for.
const maxBuckets = 400

// Reporter is the read-only aggregation path over the task store.
// Identical concurrent computations collapse into one storage round
// trip through singleflight.
type Reporter struct {
	tasks domain.TaskRepository
	group singleflight.Group
}

func NewReporter(tasks domain.TaskRepository) *Reporter {
	return &Reporter{tasks: tasks}
}

// DailyTotals returns exactly `buckets` day entries starting at from's
// local date in tz, each carrying the summed completed milliseconds of
// the tasks created that day. Days without activity stay at zero; open
// intervals contribute nothing.
//
// Buckets key on task creation date, not on when the intervals ran: a
// session worked past midnight is attributed entirely to the day its
// task was created. Task granularity is daily, so the attribution
// follows the task.
func (r *Reporter) DailyTotals(ctx context.Context, doer string, from, to time.Time, buckets int, tz string) ([]domain.DailyTotal, error) {
	if buckets <= 0 || buckets > maxBuckets {
		return nil, fmt.Errorf("bucket count must be between 1 and %d, got %d", maxBuckets, buckets)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	key := fmt.Sprintf("totals|%s|%d|%d|%d|%s", doer, from.UnixMilli(), to.UnixMilli(), buckets, tz)
	result, err, _ := r.group.Do(key, func() (any, error) {
		return r.computeDailyTotals(ctx, doer, from, to, buckets, loc)
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.DailyTotal), nil
}

func (r *Reporter) computeDailyTotals(ctx context.Context, doer string, from, to time.Time, buckets int, loc *time.Location) ([]domain.DailyTotal, error) {
	tasks, err := r.tasks.ListInRange(ctx, doer, from, to)
	if err != nil {
		return nil, err
	}

	// Sparse sums keyed by the task's local creation date.
	sums := make(map[string]int64)
	for _, task := range tasks {
		localDate := task.CreatedAt.In(loc).Format(localDateLayout)
		sums[localDate] += completedTime(task)
	}

	// Dense series: one bucket per day from from's local date, zeros
	// substituted by sparse entries where they exist.
	series := make([]domain.DailyTotal, 0, buckets)
	day := from.In(loc)
	for range buckets {
		localDate := day.Format(localDateLayout)
		series = append(series, domain.DailyTotal{
			LocalDate:     localDate,
			CompletedTime: sums[localDate],
		})
		day = day.AddDate(0, 0, 1)
	}

	return series, nil
}

// completedTime sums a task's closed intervals in milliseconds. A
// negative span (clock skew between devices) counts as zero.
func completedTime(task domain.Task) int64 {
	var total int64
	for _, iv := range task.Intervals {
		if iv.EndTime == nil {
			continue
		}
		if ms := iv.EndTime.Sub(iv.StartTime).Milliseconds(); ms > 0 {
			total += ms
		}
	}
	return total
}

// ExistingDates returns the distinct local calendar dates on which the
// doer created any task, newest first. Drives date-picker navigation.
func (r *Reporter) ExistingDates(ctx context.Context, doer, tz string) ([]string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	key := fmt.Sprintf("dates|%s|%s", doer, tz)
	result, err, _ := r.group.Do(key, func() (any, error) {
		creationDates, err := r.tasks.CreationDates(ctx, doer)
		if err != nil {
			return nil, err
		}

		// CreationDates is newest first; deduplicating in order keeps
		// the descending sort.
		seen := make(map[string]struct{}, len(creationDates))
		dates := []string{}
		for _, at := range creationDates {
			localDate := at.In(loc).Format(localDateLayout)
			if _, ok := seen[localDate]; ok {
				continue
			}
			seen[localDate] = struct{}{}
			dates = append(dates, localDate)
		}
		return dates, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}
