package wire

import (
	"encoding/binary"
	"fmt"
)

// MsgType identifies the body that follows the extended-framing header
// (spec §4.1).
type MsgType uint8

// Extended framing message types.
const (
	MsgTxFrame MsgType = iota + 1 // host -> dev
	MsgTxEcho                     // dev -> host
	MsgRxFrame                    // dev -> host
	MsgError                      // dev -> host
	MsgString                     // dev -> host
	MsgBusload                    // dev -> host
)

// headerSize is {size:u8, msg_type:u8}.
const headerSize = 2

// Message is a decoded extended-framing message. Not every field
// applies to every MsgType; see the per-type Marshal/Unmarshal helpers.
type Message struct {
	Type MsgType

	// TxFrame / RxFrame
	Flags Flag
	CanID uint32 // wire-encoded, tag bits included
	Data  []byte

	// TxFrame / TxEcho
	Marker uint8

	// TxEcho / RxFrame / Error: present only if timestamps are enabled.
	HasTimestamp bool
	Timestamp    uint32

	// Error
	ErrID     ErrID
	ErrBytes  [8]byte

	// String
	Text string

	// Busload
	Percent uint8
}

// bodySize returns the encoded body length (excluding the 2-byte
// header and the optional trailing timestamp), used to compute `size`.
func (m Message) bodySize() int {
	switch m.Type {
	case MsgTxFrame:
		return 1 + 4 + 1 + len(m.Data) // flags, can_id, marker, data
	case MsgTxEcho:
		return 1 // marker
	case MsgRxFrame:
		return 1 + 4 + len(m.Data) // flags, can_id, data
	case MsgError:
		return 4 + 8 // err_id, err_bytes
	case MsgString:
		return len(m.Text)
	case MsgBusload:
		return 1 // percent
	default:
		return 0
	}
}

// tsSize returns 4 if this type appends a trailing timestamp and the
// caller enabled it, else 0.
func (m Message) tsSize() int {
	if !m.HasTimestamp {
		return 0
	}
	switch m.Type {
	case MsgTxEcho, MsgRxFrame, MsgError:
		return 4
	default:
		return 0
	}
}

// Size computes the `size` header field: sizeof(header) + sizeof(body)
// + len(payload), counting the optional timestamp only when present
// (spec §4.1, §8 length-integrity property).
func (m Message) Size() int {
	return headerSize + m.bodySize() + m.tsSize()
}

// Marshal encodes the message to its wire form.
func (m Message) Marshal() ([]byte, error) {
	size := m.Size()
	if size > 255 {
		return nil, fmt.Errorf("wire: extended message size %d exceeds 255", size)
	}
	buf := make([]byte, size)
	buf[0] = uint8(size)
	buf[1] = uint8(m.Type)
	body := buf[headerSize:]

	switch m.Type {
	case MsgTxFrame:
		body[0] = byte(m.Flags)
		binary.LittleEndian.PutUint32(body[1:5], m.CanID)
		body[5] = m.Marker
		copy(body[6:], m.Data)
	case MsgTxEcho:
		body[0] = m.Marker
		if m.HasTimestamp {
			binary.LittleEndian.PutUint32(body[1:5], m.Timestamp)
		}
	case MsgRxFrame:
		body[0] = byte(m.Flags)
		binary.LittleEndian.PutUint32(body[1:5], m.CanID)
		off := 5
		if m.HasTimestamp {
			binary.LittleEndian.PutUint32(body[5:9], m.Timestamp)
			off = 9
		}
		copy(body[off:], m.Data)
	case MsgError:
		binary.LittleEndian.PutUint32(body[0:4], uint32(m.ErrID))
		copy(body[4:12], m.ErrBytes[:])
		if m.HasTimestamp {
			binary.LittleEndian.PutUint32(body[12:16], m.Timestamp)
		}
	case MsgString:
		copy(body, []byte(m.Text))
	case MsgBusload:
		body[0] = m.Percent
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", m.Type)
	}
	return buf, nil
}

// Unmarshal decodes one extended-framing message from buf. withTimestamp
// must reflect whether the active session has firmware timestamps
// enabled (SendFirmwareTimestamp), since the wire form does not encode
// its own presence. Returns the message and the number of bytes
// consumed (== buf[0]).
func Unmarshal(buf []byte, withTimestamp bool) (Message, int, error) {
	if len(buf) < headerSize {
		return Message{}, 0, fmt.Errorf("wire: extended message header truncated")
	}
	size := int(buf[0])
	if len(buf) < size {
		return Message{}, 0, fmt.Errorf("wire: extended message needs %d bytes, got %d", size, len(buf))
	}
	m := Message{Type: MsgType(buf[1])}
	body := buf[headerSize:size]

	switch m.Type {
	case MsgTxFrame:
		if len(body) < 6 {
			return Message{}, 0, fmt.Errorf("wire: TxFrame body truncated")
		}
		m.Flags = Flag(body[0])
		m.CanID = binary.LittleEndian.Uint32(body[1:5])
		m.Marker = body[5]
		m.Data = append([]byte(nil), body[6:]...)
	case MsgTxEcho:
		if len(body) < 1 {
			return Message{}, 0, fmt.Errorf("wire: TxEcho body truncated")
		}
		m.Marker = body[0]
		if withTimestamp {
			if len(body) < 5 {
				return Message{}, 0, fmt.Errorf("wire: TxEcho timestamp truncated")
			}
			m.HasTimestamp = true
			m.Timestamp = binary.LittleEndian.Uint32(body[1:5])
		}
	case MsgRxFrame:
		if len(body) < 5 {
			return Message{}, 0, fmt.Errorf("wire: RxFrame body truncated")
		}
		m.Flags = Flag(body[0])
		m.CanID = binary.LittleEndian.Uint32(body[1:5])
		off := 5
		if withTimestamp {
			if len(body) < 9 {
				return Message{}, 0, fmt.Errorf("wire: RxFrame timestamp truncated")
			}
			m.HasTimestamp = true
			m.Timestamp = binary.LittleEndian.Uint32(body[5:9])
			off = 9
		}
		m.Data = append([]byte(nil), body[off:]...)
	case MsgError:
		if len(body) < 12 {
			return Message{}, 0, fmt.Errorf("wire: Error body truncated")
		}
		m.ErrID = ErrID(binary.LittleEndian.Uint32(body[0:4]))
		copy(m.ErrBytes[:], body[4:12])
		if withTimestamp {
			if len(body) < 16 {
				return Message{}, 0, fmt.Errorf("wire: Error timestamp truncated")
			}
			m.HasTimestamp = true
			m.Timestamp = binary.LittleEndian.Uint32(body[12:16])
		}
	case MsgString:
		m.Text = string(body)
	case MsgBusload:
		if len(body) < 1 {
			return Message{}, 0, fmt.Errorf("wire: Busload body truncated")
		}
		m.Percent = body[0]
	default:
		return Message{}, 0, fmt.Errorf("wire: unknown message type %d", m.Type)
	}
	return m, size, nil
}

// TxFrameToMessage builds the host->device TxFrame message for f.
func TxFrameToMessage(f Frame, marker uint8) Message {
	data := f.Data
	if f.Remote {
		// For remote frames the first "data byte" carries the DLC nibble
		// (spec §4.1).
		data = []byte{ByteCountToDLC(0)}
	}
	return Message{
		Type:   MsgTxFrame,
		Flags:  f.Flags,
		CanID:  EncodeID(f.Extended, f.Remote, f.ID),
		Marker: marker,
		Data:   data,
	}
}

// RxFrameToMessage builds the device->host RxFrame message for f.
func RxFrameToMessage(f Frame, withTimestamp bool) Message {
	data := f.Data
	if f.Remote {
		data = []byte{ByteCountToDLC(0)}
	}
	m := Message{
		Type:  MsgRxFrame,
		Flags: f.Flags,
		CanID: EncodeID(f.Extended, f.Remote, f.ID),
		Data:  data,
	}
	if withTimestamp {
		m.HasTimestamp = true
		m.Timestamp = f.Timestamp
	}
	return m
}

// ToFrame extracts the CAN frame carried by a TxFrame or RxFrame
// message.
func (m Message) ToFrame() Frame {
	extended, remote, id := DecodeID(m.CanID)
	f := Frame{
		ID:           id,
		Extended:     extended,
		Remote:       remote,
		Flags:        m.Flags,
		HasTimestamp: m.HasTimestamp,
		Timestamp:    m.Timestamp,
	}
	if !remote {
		f.Data = m.Data
	}
	return f
}
