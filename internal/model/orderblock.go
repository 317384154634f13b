package model

import (
	"encoding/json"
	"time"
)

// Side is the direction of an order block.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderBlock is a price zone taken from the bar selected ahead of a confirmed
// structure break. Immutable once created.
type OrderBlock struct {
	Low  float64   `json:"low"`
	High float64   `json:"high"`
	TS   time.Time `json:"ts"` // event time of the selected bar
	Side Side      `json:"side"`
}

// BrokenBy reports whether a close invalidates the block: a BUY block breaks
// on a close below its low, a SELL block on a close above its high.
func (ob OrderBlock) BrokenBy(close float64) bool {
	switch ob.Side {
	case SideBuy:
		return close < ob.Low
	case SideSell:
		return close > ob.High
	}
	return false
}

// BlockUpdate is the visible order block list of one detector after a bar.
type BlockUpdate struct {
	Token    string       `json:"token"`
	Exchange string       `json:"exchange"`
	TF       int          `json:"tf"`
	TS       time.Time    `json:"ts"`    // bar that produced this update
	Close    float64      `json:"close"` // close of that bar
	Blocks   []OrderBlock `json:"blocks"`
	Ready    bool         `json:"ready"` // detector initialized
	Live     bool         `json:"live"`  // preview from a forming bar
}

// Key returns "exchange:token".
func (u *BlockUpdate) Key() string {
	return JoinKey(u.Exchange, u.Token)
}

// StreamKey returns the Redis stream key: "ob:{TF}s:{exchange}:{token}".
func (u *BlockUpdate) StreamKey() string {
	return "ob:" + Itoa(u.TF) + "s:" + u.Key()
}

// LatestKey returns the key holding the most recent confirmed update.
func (u *BlockUpdate) LatestKey() string {
	return "ob:" + Itoa(u.TF) + "s:latest:" + u.Key()
}

// PubSubChannel returns "pub:ob:{TF}s:{exchange}:{token}".
func (u *BlockUpdate) PubSubChannel() string {
	return "pub:" + u.StreamKey()
}

// JSON returns the JSON-encoded update.
func (u *BlockUpdate) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
