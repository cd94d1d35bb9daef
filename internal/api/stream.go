package api

import (
	"net/http"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
)

// AlarmEvent is one delivered alarm on the websocket feed.
type AlarmEvent struct {
	AlarmID    string       `json:"alarm_id"`
	CameraID   string       `json:"camera_id"`
	SceneType  int          `json:"scene_type"`
	Scene      string       `json:"scene"`
	Timestamp  time.Time    `json:"timestamp"`
	Rects      []alarm.Rect `json:"rects"`
	Area       float64      `json:"area,omitempty"`
	Speed      float64      `json:"speed,omitempty"`
	Color      string       `json:"color,omitempty"`
	GaugeValue float64      `json:"gauge_value,omitempty"`
	IsActive   bool         `json:"is_active"`
}

// NewAlarmEvent converts a delivered record.
func NewAlarmEvent(rec alarm.Record) AlarmEvent {
	rects := rec.Rects
	if rects == nil {
		rects = []alarm.Rect{}
	}
	return AlarmEvent{
		AlarmID:    rec.ID,
		CameraID:   rec.CameraID,
		SceneType:  int(rec.SceneType),
		Scene:      rec.SceneType.String(),
		Timestamp:  rec.Timestamp,
		Rects:      rects,
		Area:       rec.Area,
		Speed:      rec.Speed,
		Color:      rec.Color,
		GaugeValue: rec.GaugeValue,
		IsActive:   rec.IsActive,
	}
}

func (s *Server) handleAlarmStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Subscribe to delivered alarms
	updates := s.alarms.Subscribe()
	defer s.alarms.Unsubscribe(updates)

	// The client never sends; reading only notices when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	camera := r.URL.Query().Get("camera_id")
	for {
		select {
		case <-gone:
			return
		case rec, ok := <-updates:
			if !ok {
				return
			}
			if camera != "" && rec.CameraID != camera {
				continue
			}
			if err := conn.WriteJSON(NewAlarmEvent(rec)); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}
