package sink

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/frame"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
	"golang.org/x/image/draw"
)

// TimeLayout is the StartTime format on the wire.
const TimeLayout = "2006-01-02 15:04:05"

const snapshotQuality = 90

// Payload is the JSON body every transport carries.
type Payload struct {
	VideoID    string       `json:"VideoId"`
	StartTime  string       `json:"StartTime"`
	SceneType  int          `json:"SceneType"`
	ExtendData string       `json:"ExtendData"`
	Locations  []alarm.Rect `json:"Locations"`
	Snapshot   string       `json:"Snapshot,omitempty"`
	AlarmID    string       `json:"AlarmId"`
}

// Message is an encoded record. Body is the JSON form of Payload.
type Message struct {
	Payload Payload
	Body    []byte
}

// EncodeOptions controls how records are rendered.
type EncodeOptions struct {
	// Location formats StartTime; nil means time.Local.
	Location        *time.Location
	IncludeSnapshot bool
	// SnapshotMaxWidth downscales wider snapshots; zero keeps the size.
	SnapshotMaxWidth int
}

// Encode renders rec into a message. The record is only read, so it can
// stay in its queue slot until the send completes.
func Encode(rec *alarm.Record, opts EncodeOptions) (*Message, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	extend, err := ExtendData(rec)
	if err != nil {
		return nil, err
	}

	p := Payload{
		VideoID:    rec.CameraID,
		StartTime:  rec.Timestamp.In(loc).Format(TimeLayout),
		SceneType:  int(rec.SceneType),
		ExtendData: extend,
		Locations:  append(make([]alarm.Rect, 0, len(rec.Rects)), rec.Rects...),
		AlarmID:    rec.ID,
	}
	if opts.IncludeSnapshot && !rec.Snapshot.Empty() {
		// A bad snapshot never costs the alarm itself.
		snap, err := EncodeSnapshot(rec.Snapshot, opts.SnapshotMaxWidth)
		if err != nil {
			logger.WithCamera("sink", rec.CameraID).Warn().
				Err(err).
				Str("alarm_id", rec.ID).
				Msg("Snapshot not encodable, sending alarm without it")
		} else {
			p.Snapshot = snap
		}
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Message{Payload: p, Body: body}, nil
}

// ExtendData renders the scene-specific part of rec as a JSON string.
func ExtendData(rec *alarm.Record) (string, error) {
	var v any
	switch rec.SceneType {
	case alarm.SceneWaterGauge:
		v = struct {
			Value float64 `json:"Value"`
			Type  int     `json:"Type"`
		}{rec.GaugeValue, 0}
	case alarm.SceneWaterColor:
		v = struct {
			Color string `json:"Color"`
		}{rec.Color}
	case alarm.SceneFloater:
		v = struct {
			TotalArea float64 `json:"TotalArea"`
			Speed     float64 `json:"Speed"`
		}{rec.Area, rec.Speed}
	case alarm.SceneInvade, alarm.SceneFishing, alarm.SceneLitter, alarm.SceneSwimming:
		active := 0
		if rec.IsActive {
			active = 1
		}
		v = struct {
			IsActive int `json:"IsActive"`
		}{active}
	default:
		return "{}", nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal extend data: %w", err)
	}
	return string(b), nil
}

// EncodeSnapshot scales f down to maxWidth (keeping the aspect ratio) and
// returns it as base64 JPEG.
func EncodeSnapshot(f frame.Frame, maxWidth int) (string, error) {
	img := f.Image()
	if img == nil {
		return "", fmt.Errorf("snapshot frame %dx%dx%d not encodable", f.Width, f.Height, f.Channels)
	}

	if maxWidth > 0 && f.Width > maxWidth {
		h := f.Height * maxWidth / f.Width
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: snapshotQuality}); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
