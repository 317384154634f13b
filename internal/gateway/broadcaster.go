package gateway

import (
	"strconv"
	"time"
)

// buildEnvelope hand-crafts the client envelope:
// {"channel":"...","data":{...},"ts":"...","seq":N,"channel_seq":M}
func buildEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// broadcast stamps data with sequence numbers and sends it to every client
// subscribed to channel. Slow clients drop messages rather than block.
func (h *Hub) broadcast(channel string, data []byte, keep bool) {
	now := h.now()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	if keep {
		h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(replayPerChannel)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	buf := buildEnvelope(channel, data, now, seq, channelSeq)
	rb.Push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}
