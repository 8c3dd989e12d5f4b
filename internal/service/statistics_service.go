package service

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type RoomUsage struct {
	RoomCode         string `json:"room_code"`
	RoomName         string `json:"room_name"`
	ReservationCount int64  `json:"reservation_count"`
	BookedHours      string `json:"booked_hours"`
	EstimatedCharge  string `json:"estimated_charge"` // hourly rate x booked hours
}

type StatisticsResponse struct {
	TimeRangeStartDate time.Time        `json:"time_range_start_date"`
	TimeRangeEndDate   time.Time        `json:"time_range_end_date"`
	StatusCounts       map[string]int64 `json:"status_counts"`
	RoomUsage          []RoomUsage      `json:"room_usage"`
}

type StatisticsService interface {
	GetStatistics(ctx context.Context, startDate, endDate time.Time) (StatisticsResponse, error)
}

type statisticsService struct {
	db *gorm.DB
}

func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{db: db}
}

// GetStatistics aggregates reservation activity per room over the given
// window: how many published reservations touched each room, the booked
// hours clipped to the window, and the internal charge those hours
// represent at the room's hourly rate.
func (s *statisticsService) GetStatistics(ctx context.Context, startDate, endDate time.Time) (StatisticsResponse, error) {
	response := StatisticsResponse{
		TimeRangeStartDate: startDate,
		TimeRangeEndDate:   endDate,
		StatusCounts:       map[string]int64{},
	}

	// Status breakdown for reservations whose window intersects the range
	var statusRows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Reservation{}).
		Select("status, COUNT(*) as count").
		Where("start_date_time < ? AND end_date_time > ?", endDate, startDate).
		Group("status").
		Scan(&statusRows).Error; err != nil {
		return response, err
	}
	for _, row := range statusRows {
		response.StatusCounts[row.Status] = row.Count
	}

	// Per-room usage. The rooms column is a text[], so the join goes
	// through ANY; booked hours are clipped to the requested window.
	var usageRows []struct {
		Code        string
		Name        string
		HourlyRate  decimal.Decimal
		Count       int64
		BookedHours float64
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT rm.code, rm.name, rm.hourly_rate,
		       COUNT(res.id) AS count,
		       COALESCE(SUM(EXTRACT(EPOCH FROM
		           (LEAST(res.end_date_time, ?) - GREATEST(res.start_date_time, ?))) / 3600.0), 0) AS booked_hours
		FROM rooms rm
		LEFT JOIN reservations res
		       ON rm.code = ANY(res.locations)
		      AND res.status = ?
		      AND res.start_date_time < ? AND res.end_date_time > ?
		GROUP BY rm.code, rm.name, rm.hourly_rate
		ORDER BY rm.code
	`, endDate, startDate, model.StatusPublished, endDate, startDate).Scan(&usageRows).Error
	if err != nil {
		return response, err
	}

	usage := make([]RoomUsage, 0, len(usageRows))
	for _, row := range usageRows {
		hours := decimal.NewFromFloat(row.BookedHours).Round(2)
		usage = append(usage, RoomUsage{
			RoomCode:         row.Code,
			RoomName:         row.Name,
			ReservationCount: row.Count,
			BookedHours:      hours.StringFixed(2),
			EstimatedCharge:  row.HourlyRate.Mul(hours).StringFixed(2),
		})
	}
	response.RoomUsage = usage

	return response, nil
}
