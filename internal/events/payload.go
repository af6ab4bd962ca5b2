package events

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/openclaw/subbot-linker/internal/model"
)

const qrImageSize = 256

// QRImageURI renders payload as a PNG data URI.
func QRImageURI(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// New builds an event with data marshalled into its payload.
func New(session *model.Session, eventType model.EventType, seq uint64, data any, at time.Time) model.Event {
	event := model.Event{
		SessionID: session.ID,
		Type:      eventType,
		State:     session.State,
		Seq:       seq,
		At:        at,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Error().Err(err).Str("type", string(eventType)).Msg("failed to marshal event data")
		} else {
			event.Data = raw
		}
	}
	return event
}

// QRReady builds the payload of a qr_ready event. Rendering failures leave
// the image out.
func QRReady(payload string) model.QRReadyData {
	data := model.QRReadyData{QR: payload}
	uri, err := QRImageURI(payload)
	if err != nil {
		log.Warn().Err(err).Msg("failed to render qr image")
		return data
	}
	data.ImageURI = uri
	return data
}
