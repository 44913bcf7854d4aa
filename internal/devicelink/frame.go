package devicelink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	startByte byte = 0x99

	LOGIN    byte = 0x01
	LOCATION byte = 0x02
	ACK      byte = 0x10

	// a frame is start, protocol, 2 length bytes, payload and '\n'
	frameOverhead = 5
	maxPayload    = 1000
)

var errBadFrame = errors.New("Bad frame")

type FrameMessage struct {
	Length   int
	Protocol byte
	Payload  []byte
	Buffer   []byte
}

func NewFrameMessage() *FrameMessage {
	return &FrameMessage{Buffer: make([]byte, maxPayload+frameOverhead)}
}

type LoginMessage struct {
	PairingCode string `json:"pairing_code"`
	Device      string `json:"device"`
}

type LocationMessage struct {
	GpsTime   time.Time `json:"gps_time"`
	Latitude  float64   `json:"latitude" validate:"latitude"`
	Longitude float64   `json:"longitude" validate:"longitude"`
	Accuracy  float32   `json:"accuracy"`
	Altitude  float32   `json:"altitude"`
	Speed     float32   `json:"speed"`
}

type AckMessage struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

func ReadMessage(r io.Reader, msg *FrameMessage) error {
	var length int //length field

	if len(msg.Buffer) < frameOverhead {
		return fmt.Errorf("buffer too small")
	}

	_, err := io.ReadFull(r, msg.Buffer[:4])
	if err != nil {
		return err
	}
	//check startbit type
	if msg.Buffer[0] != startByte {
		return errBadFrame
	}
	length = int(binary.LittleEndian.Uint16(msg.Buffer[2:4]))
	msg.Protocol = msg.Buffer[1]
	msg.Length = length + frameOverhead

	if len(msg.Buffer) < msg.Length {
		return fmt.Errorf("frame of %d bytes exceeds buffer", msg.Length)
	}

	_, err = io.ReadFull(r, msg.Buffer[4:msg.Length])
	if err != nil {
		return err
	}
	if msg.Buffer[msg.Length-1] != '\n' {
		return errBadFrame
	}
	msg.Payload = msg.Buffer[4 : msg.Length-1]
	return nil
}

// AppendFrame frames payload under protocol.
func AppendFrame(dst []byte, protocol byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xffff {
		return dst, fmt.Errorf("payload of %d bytes too large", len(payload))
	}
	var hdr [4]byte
	hdr[0] = startByte
	hdr[1] = protocol
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(payload)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	return append(dst, '\n'), nil
}

func WriteMessage(w io.Writer, protocol byte, payload []byte) error {
	d, err := AppendFrame(nil, protocol, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(d)
	return err
}
