package model

import (
	"encoding/json"
	"time"
)

// Bar is a fixed-interval OHLCV summary for one instrument on one timeframe.
// Prices are plain float64; the detector never accumulates them, so drift is
// not a concern here.
type Bar struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"` // timeframe in seconds
	TS       time.Time `json:"ts"` // event time (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Forming  bool      `json:"forming"` // true while the bucket is still open
}

// Key returns "exchange:token".
func (b *Bar) Key() string {
	return JoinKey(b.Exchange, b.Token)
}

// StreamKey returns the Redis stream key: "bar:{TF}s:{exchange}:{token}".
func (b *Bar) StreamKey() string {
	return BarStreamKey(b.TF, b.Key())
}

// PubSubChannel returns the forming-bar channel: "pub:bar:{TF}s:{exchange}:{token}".
func (b *Bar) PubSubChannel() string {
	return "pub:" + b.StreamKey()
}

// Range returns high - low.
func (b *Bar) Range() float64 {
	return b.High - b.Low
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// BarStreamKey builds the stream key for a TF and "exchange:token" key.
func BarStreamKey(tf int, key string) string {
	return "bar:" + Itoa(tf) + "s:" + key
}
