package mesh

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Node represents a single mesh device as reported by the network, plus
// the position-estimation flags this service adds on output.
type Node struct {
	Num       uint32   `json:"num"`
	ID        string   `json:"id,omitempty"`
	LongName  string   `json:"long_name,omitempty"`
	ShortName string   `json:"short_name,omitempty"`
	HWModel   string   `json:"hw_model,omitempty"`
	Role      string   `json:"role,omitempty"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	LastHeard int64    `json:"last_heard,omitempty"`

	// Estimated is true iff the coordinate was synthesized by the estimator.
	Estimated bool `json:"estimated"`
	// TraceOnly is true iff the node was never in the node list and was
	// discovered only by appearing inside a traceroute.
	TraceOnly bool `json:"trace_only,omitempty"`
}

// HasCoord reports whether the node carries a usable geographic coordinate.
// Non-finite and out-of-range values count as absent.
func (n *Node) HasCoord() bool {
	if n.Lat == nil || n.Lon == nil {
		return false
	}
	lat, lon := *n.Lat, *n.Lon
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// SetCoord stores a coordinate on the node.
func (n *Node) SetCoord(lat, lon float64) {
	n.Lat = &lat
	n.Lon = &lon
}

// Trace is one traceroute observation: the hop sequence towards the
// destination, the hop sequence back to the origin, and the per-hop SNR
// readings reported alongside each sequence.
type Trace struct {
	CapturedAt  string      `json:"captured_at_utc,omitempty"`
	TowardsNums NodeNumList `json:"towards_nums"`
	BackNums    NodeNumList `json:"back_nums"`
	TowardsSNR  SNRList     `json:"towards_snr_db,omitempty"`
	BackSNR     SNRList     `json:"back_snr_db,omitempty"`
}

// InvalidNodeNum marks a route entry that could not be parsed as a node
// number. It is kept in place so that hops through it are dropped without
// joining the nodes on either side.
const InvalidNodeNum int64 = -1

// NodeNumList is a route hop sequence. Entries that are null, non-numeric,
// non-finite, or outside the 32-bit range decode to InvalidNodeNum instead
// of failing the whole document.
type NodeNumList []int64

// UnmarshalJSON implements lenient decoding for route sequences.
func (l *NodeNumList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*l = nil
		return nil
	}
	out := make(NodeNumList, len(raw))
	for i, item := range raw {
		out[i] = parseNodeNum(item)
	}
	*l = out
	return nil
}

// MarshalJSON renders invalid entries as null so stored routes round-trip.
func (l NodeNumList) MarshalJSON() ([]byte, error) {
	raw := make([]*int64, len(l))
	for i, v := range l {
		if v != InvalidNodeNum {
			n := v
			raw[i] = &n
		}
	}
	return json.Marshal(raw)
}

func parseNodeNum(data json.RawMessage) int64 {
	// A pointer target distinguishes null from zero: unmarshaling null
	// into a plain float64 silently leaves it at 0.
	var f *float64
	if err := json.Unmarshal(data, &f); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return InvalidNodeNum
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return InvalidNodeNum
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return InvalidNodeNum
		}
		f = &parsed
	}
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return InvalidNodeNum
	}
	n := int64(*f)
	if n < 0 || n > math.MaxUint32 {
		return InvalidNodeNum
	}
	return n
}

// SNRList carries per-hop SNR readings in decibels. Null, non-numeric, and
// non-finite entries decode to NaN, which downstream code treats as "no
// reading for this hop".
type SNRList []float64

// UnmarshalJSON implements lenient decoding for SNR arrays.
func (l *SNRList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*l = nil
		return nil
	}
	out := make(SNRList, len(raw))
	for i, item := range raw {
		// Null must not read as 0 dB, so decode through a pointer.
		var f *float64
		if err := json.Unmarshal(item, &f); err != nil || f == nil || math.IsInf(*f, 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = *f
	}
	*l = out
	return nil
}

// MarshalJSON renders NaN entries as null (JSON has no NaN literal).
func (l SNRList) MarshalJSON() ([]byte, error) {
	raw := make([]*float64, len(l))
	for i, v := range l {
		if !math.IsNaN(v) {
			f := v
			raw[i] = &f
		}
	}
	return json.Marshal(raw)
}

// Point is a 2D coordinate in the local tangent plane, in meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker       string `yaml:"broker" json:"broker"`
	ClientID     string `yaml:"clientId" json:"clientId"`
	Username     string `yaml:"username,omitempty" json:"username,omitempty"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	TopicRoot    string `yaml:"topicRoot" json:"topicRoot"`
	PublishTopic string `yaml:"publishTopic,omitempty" json:"publishTopic,omitempty"`
}

// StorageConfig holds snapshot store settings.
type StorageConfig struct {
	Path              string `yaml:"path" json:"path"`
	RetentionHours    int    `yaml:"retentionHours,omitempty" json:"retentionHours,omitempty"`
	MaxSnapshotTraces int    `yaml:"maxSnapshotTraces,omitempty" json:"maxSnapshotTraces,omitempty"`
}

// Config represents the full configuration file.
type Config struct {
	MQTT           MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	Storage        StorageConfig `yaml:"storage" json:"storage"`
	RefreshSeconds int           `yaml:"refreshSeconds,omitempty" json:"refreshSeconds,omitempty"`
}

// RefreshInterval returns the estimation refresh period in seconds,
// defaulting to 60 when unset.
func (c *Config) RefreshInterval() int {
	if c.RefreshSeconds <= 0 {
		return 60
	}
	return c.RefreshSeconds
}

// SnapshotTraceLimit returns the maximum number of traceroutes fed into a
// single estimation pass, defaulting to 500.
func (c *Config) SnapshotTraceLimit() int {
	if c.Storage.MaxSnapshotTraces <= 0 {
		return 500
	}
	return c.Storage.MaxSnapshotTraces
}
