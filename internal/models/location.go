package models

import (
	"time"

	"github.com/google/uuid"
)

// LocationSample последняя точка участника; отсутствие ключа означает, что он не делится местоположением
type LocationSample struct {
	RoomID      uuid.UUID `json:"room_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Accuracy    *float64  `json:"accuracy,omitempty"`
	Speed       *float64  `json:"speed,omitempty"`
	Bearing     *float64  `json:"bearing,omitempty"`
	Heading     *float64  `json:"heading,omitempty"`
	Altitude    *float64  `json:"altitude,omitempty"`
	Battery     *int      `json:"battery,omitempty"`
	DeviceInfo  string    `json:"device_info,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	IsLive      bool      `json:"is_live"`
}

func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
