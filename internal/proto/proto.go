// Package proto defines the closed enumerations and wire-independent data
// model shared by every RRC package: node addresses, data types, priority
// classes, application packets, link frames, piggyback TLVs and NC slot
// messages.
package proto

import "fmt"

// NodeAddr is an 8-bit node identifier, unique on the network.
type NodeAddr uint8

const (
	// Broadcast addresses every node.
	Broadcast NodeAddr = 0xFF
	// SelfDefault is the conventional default address for a node that has
	// not been given an explicit ID.
	SelfDefault NodeAddr = 0xFE
)

// DataType is the application-level payload classification.
type DataType int

const (
	DataSMS DataType = iota
	DataVoiceDigital
	DataVoiceAnalog
	DataVideo
	DataFile
	DataRelay
	DataUnknown
)

func (d DataType) String() string {
	switch d {
	case DataSMS:
		return "SMS"
	case DataVoiceDigital:
		return "VoiceDigital"
	case DataVoiceAnalog:
		return "VoiceAnalog"
	case DataVideo:
		return "Video"
	case DataFile:
		return "File"
	case DataRelay:
		return "Relay"
	default:
		return "Unknown"
	}
}

// Priority classes, ascending numeric order; lowest value is highest
// urgency.
type Priority int

const (
	PriorityAnalogVoicePTT Priority = iota
	PriorityDigitalVoice
	PriorityData1
	PriorityData2
	PriorityData3
	PriorityRXRelay
)

func (p Priority) String() string {
	switch p {
	case PriorityAnalogVoicePTT:
		return "AnalogVoicePTT"
	case PriorityDigitalVoice:
		return "DigitalVoice"
	case PriorityData1:
		return "Data1"
	case PriorityData2:
		return "Data2"
	case PriorityData3:
		return "Data3"
	case PriorityRXRelay:
		return "RXRelay"
	default:
		return "Invalid"
	}
}

// PriorityForDataType maps a data type (and urgency flag) to its priority
// class. SMS and File may be promoted one class (toward more urgent) when
// urgent is set.
func PriorityForDataType(dt DataType, urgent bool) Priority {
	var p Priority
	switch dt {
	case DataVoiceAnalog:
		return PriorityAnalogVoicePTT
	case DataVoiceDigital:
		return PriorityDigitalVoice
	case DataSMS:
		p = PriorityData3
	case DataVideo:
		p = PriorityData1
	case DataFile:
		p = PriorityData2
	case DataRelay:
		return PriorityRXRelay
	default:
		p = PriorityData3
	}
	if urgent && (dt == DataSMS || dt == DataFile) && p > PriorityAnalogVoicePTT {
		p--
	}
	return p
}

// TransmissionType is the application packet's delivery mode.
type TransmissionType int

const (
	TransmissionUnicast TransmissionType = iota
	TransmissionMulticast
	TransmissionBroadcast
)

const (
	// PayloadMaxLink is the maximum payload length, in bytes, of a single
	// link-layer frame.
	PayloadMaxLink = 16
	// PayloadMaxApp is the maximum payload length, in bytes, of an
	// application packet moved between in-process buffers.
	PayloadMaxApp = 2800

	// FrameQueueSize is the default capacity of a single-priority frame
	// queue.
	FrameQueueSize = 10
	// AppQueueSize is the default capacity of app_to_rrc/rrc_to_app.
	AppQueueSize = 20
	// ChannelCapacity is the default capacity of a bounded message
	// channel (§4.A).
	ChannelCapacity = 32

	// DefaultFrameTTL is the TTL stamped onto a newly built downlink
	// frame.
	DefaultFrameTTL = 10
)

// AppPacket is the record exchanged across the application boundary
// (spec §6.1).
type AppPacket struct {
	SrcID            NodeAddr
	DestID           NodeAddr
	DataType         DataType
	TransmissionType TransmissionType
	SequenceNumber   uint32
	Timestamp        uint32
	Urgent           bool
	Data             []byte
}

// Validate checks the payload bound and returns a descriptive error if the
// packet is malformed.
func (p *AppPacket) Validate() error {
	if len(p.Data) > PayloadMaxApp {
		return fmt.Errorf("proto: app packet payload %d bytes exceeds max %d", len(p.Data), PayloadMaxApp)
	}
	return nil
}

// LinkFrame is a single link-layer unit (spec §3 Link Frame).
type LinkFrame struct {
	Src       NodeAddr
	Dest      NodeAddr
	NextHop   NodeAddr
	RxOrL3    bool // true = control/uplink, false = app/downlink
	TTL       int
	Priority  Priority
	DataType  DataType
	Payload   []byte
}

// Validate enforces the payload-length and non-negative-TTL invariants.
func (f *LinkFrame) Validate() error {
	if len(f.Payload) > PayloadMaxLink {
		return fmt.Errorf("proto: link frame payload %d bytes exceeds max %d", len(f.Payload), PayloadMaxLink)
	}
	if f.TTL < 0 {
		return fmt.Errorf("proto: link frame TTL %d is negative", f.TTL)
	}
	return nil
}

// DecrementTTL decrements TTL by one, never going below zero, and reports
// whether the frame is still relayable (TTL > 0 after decrement).
func (f *LinkFrame) DecrementTTL() bool {
	if f.TTL <= 0 {
		f.TTL = 0
		return false
	}
	f.TTL--
	return f.TTL > 0
}

// PiggybackTLVType is the expected constant TLV type byte; any other value
// must be rejected by a consumer.
const PiggybackTLVType = 0x42

// PiggybackTLV is the compact record transmitted in a node's NC slot.
type PiggybackTLV struct {
	Type              byte
	Length            uint8
	Source            NodeAddr
	ReservedSlotCount uint8
	IntentionBitmap   [60]bool
	NCStatusBitmap    [40]bool
	TimeSync          uint32
	OwnNCSlot         uint8
	TTL               int
}

// Valid reports whether the TLV's type byte matches the expected constant.
func (t *PiggybackTLV) Valid() bool {
	return t.Type == PiggybackTLVType
}

// DecrementTTL decrements the piggyback TTL once per frame; at zero the
// piggyback is considered stale.
func (t *PiggybackTLV) DecrementTTL() bool {
	if t.TTL <= 0 {
		t.TTL = 0
		return false
	}
	t.TTL--
	return t.TTL > 0
}

// NCSlotMessage is the composite record for a node's NC slot.
type NCSlotMessage struct {
	AssignedSlot    uint8 // 1..40
	OLSRMessage     []byte
	Piggyback       *PiggybackTLV
	SelfNeighbor    *NeighborSnapshot
	Timestamp       uint32
	Source          NodeAddr
	SequenceNumber  uint32
	Valid           bool
}

// NeighborSnapshot is a minimal self-neighbor view embedded in an
// NCSlotMessage.
type NeighborSnapshot struct {
	Node      NodeAddr
	RSSI      float32
	SNR       float32
	PER       float32
	Active    bool
}
