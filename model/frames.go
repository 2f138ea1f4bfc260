package model

// Packet is an opaque payload travelling inside a burst. The radio layer
// never inspects the bytes; it only sizes and delivers them.
type Packet struct {
	Bytes []byte
}

// PacketBurst is the unit handed to the PHY for one data transmission:
// every packet scheduled into the same slot for the same receiver.
type PacketBurst struct {
	Packets []Packet
}

// Size returns the total payload size of the burst in bytes.
func (pb *PacketBurst) Size() uint32 {
	var n uint32
	for _, p := range pb.Packets {
		n += uint32(len(p.Bytes))
	}
	return n
}

// ControlMessageKind enumerates the control messages the PHY forwards
// between MAC instances. The radio layer treats them as opaque except
// for routing.
type ControlMessageKind int

const (
	CtrlDci ControlMessageKind = iota
	CtrlDlCqi
	CtrlUlCqi
	CtrlHarqAck
	CtrlRach
	CtrlSib
)

// ControlMessage is an opaque cross-layer control message with a kind
// tag for routing.
type ControlMessage struct {
	Kind    ControlMessageKind
	Payload any
}
