package mesh

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Envelope is the firmware's JSON MQTT message: a routing header plus a
// type-tagged payload.
type Envelope struct {
	Type      string          `json:"type"`
	From      uint32          `json:"from"`
	To        int64           `json:"to"`
	Sender    string          `json:"sender"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// rawSNRMissing is the firmware sentinel for "no reading" in the quarter-dB
// SNR arrays of a route discovery.
const rawSNRMissing = -128

type nodeinfoPayload struct {
	ID        string `json:"id"`
	LongName  string `json:"longname"`
	ShortName string `json:"shortname"`
	Hardware  int    `json:"hardware"`
	Role      int    `json:"role"`
}

type positionPayload struct {
	LatitudeI  int64 `json:"latitude_i"`
	LongitudeI int64 `json:"longitude_i"`
	Time       int64 `json:"time"`
}

type traceroutePayload struct {
	Route      []int64 `json:"route"`
	SNRTowards []int   `json:"snr_towards"`
	RouteBack  []int64 `json:"route_back"`
	SNRBack    []int   `json:"snr_back"`
}

// DecodeEnvelope parses one MQTT payload into an Envelope. Messages with no
// type tag are rejected; unknown types pass through and are skipped later.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parsing message envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("message has no type field")
	}
	return &env, nil
}

// NodeFromEnvelope extracts a node record from a nodeinfo or position
// envelope. Returns false for envelope types that carry no node data.
func NodeFromEnvelope(env *Envelope) (Node, bool, error) {
	node := Node{Num: env.From, LastHeard: env.Timestamp}

	switch env.Type {
	case "nodeinfo":
		var info nodeinfoPayload
		if err := json.Unmarshal(env.Payload, &info); err != nil {
			return Node{}, false, fmt.Errorf("parsing nodeinfo payload: %w", err)
		}
		node.ID = info.ID
		node.LongName = info.LongName
		node.ShortName = info.ShortName
		if info.Hardware != 0 {
			node.HWModel = strconv.Itoa(info.Hardware)
		}
		if info.Role != 0 {
			node.Role = strconv.Itoa(info.Role)
		}
		return node, true, nil

	case "position":
		var pos positionPayload
		if err := json.Unmarshal(env.Payload, &pos); err != nil {
			return Node{}, false, fmt.Errorf("parsing position payload: %w", err)
		}
		if pos.LatitudeI == 0 && pos.LongitudeI == 0 {
			// The firmware publishes zeroed positions for nodes without a
			// fix; null island is not a real sighting.
			return Node{}, false, nil
		}
		node.SetCoord(float64(pos.LatitudeI)*1e-7, float64(pos.LongitudeI)*1e-7)
		if !node.HasCoord() {
			return Node{}, false, fmt.Errorf("position out of range: %d, %d", pos.LatitudeI, pos.LongitudeI)
		}
		if pos.Time > 0 {
			node.LastHeard = pos.Time
		}
		return node, true, nil
	}

	return Node{}, false, nil
}

// TraceFromEnvelope reassembles the full hop sequences of a traceroute
// envelope. The payload lists only intermediate hops; the endpoints come
// from the packet header, destination first for the towards leg and origin
// first for the return leg. SNR readings arrive in quarter-dB.
func TraceFromEnvelope(env *Envelope) (Trace, bool, error) {
	if env.Type != "traceroute" {
		return Trace{}, false, nil
	}
	var route traceroutePayload
	if err := json.Unmarshal(env.Payload, &route); err != nil {
		return Trace{}, false, fmt.Errorf("parsing traceroute payload: %w", err)
	}

	tr := Trace{CapturedAt: utcNow()}

	if env.To >= 0 && env.To <= math.MaxUint32 {
		tr.TowardsNums = append(NodeNumList{env.To}, route.Route...)
		tr.TowardsNums = append(tr.TowardsNums, int64(env.From))
		tr.TowardsSNR = rawSNRToDB(route.SNRTowards)
	}

	if len(route.RouteBack) > 0 || len(route.SNRBack) > 0 {
		tr.BackNums = append(NodeNumList{int64(env.From)}, route.RouteBack...)
		if env.To >= 0 && env.To <= math.MaxUint32 {
			tr.BackNums = append(tr.BackNums, env.To)
		}
		tr.BackSNR = rawSNRToDB(route.SNRBack)
	}

	if len(tr.TowardsNums) < 2 && len(tr.BackNums) < 2 {
		return Trace{}, false, nil
	}
	return tr, true, nil
}

func rawSNRToDB(raw []int) SNRList {
	if len(raw) == 0 {
		return nil
	}
	out := make(SNRList, len(raw))
	for i, v := range raw {
		if v == rawSNRMissing {
			out[i] = math.NaN()
			continue
		}
		out[i] = float64(v) / 4.0
	}
	return out
}
