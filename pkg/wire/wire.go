// Package wire implements the Prana recuperator frame protocol: a small
// binary command/response format exchanged over a single GATT
// characteristic. Encoding and decoding are pure; pairing a response with
// the request it answers is the caller's job.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout constants. Control frames are 4 bytes and carry no
// terminator; query frames end with the fixed terminator byte. Both are
// bit-exact with the vendor firmware.
const (
	magic0 = 0xBE
	magic1 = 0xEF

	CategoryControl = 0x04
	CategoryQuery   = 0x05

	// Terminator closes query frames. Decode treats it as the frame's
	// checksum region: any corruption of it fails validation.
	Terminator = 0x5A

	controlFrameLen = 4
	queryFrameLen   = 9

	// MinStateFrameLen covers the core field region of a state response
	// (last core field is the winter-mode flag at offset 42).
	MinStateFrameLen = 43

	// sensorFrameLen is the minimum response length that carries the
	// sensor block (humidity, CO2, VOC, temperatures).
	sensorFrameLen = 65

	// MaxFrameLen bounds any frame this codec will accept.
	MaxFrameLen = 256
)

// Decode failures. Distinct from transport errors; never retried here.
var (
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrUnexpectedCommand = errors.New("unexpected command echo")
)

// ControlOp is a firmware keypress command, sent as BE EF 04 <op>.
type ControlOp byte

const (
	OpStop             ControlOp = 0x01
	OpToggleHeating    ControlOp = 0x05
	OpEnableNightMode  ControlOp = 0x06
	OpEnableHighSpeed  ControlOp = 0x07
	OpToggleFlowLock   ControlOp = 0x09
	OpSpeedDown        ControlOp = 0x0B
	OpSpeedUp          ControlOp = 0x0C
	OpFlowInOff        ControlOp = 0x0D
	OpSpeedInUp        ControlOp = 0x0E
	OpSpeedInDown      ControlOp = 0x0F
	OpFlowOutOff       ControlOp = 0x10
	OpSpeedOutUp       ControlOp = 0x11
	OpSpeedOutDown     ControlOp = 0x12
	OpToggleWinterMode ControlOp = 0x16
)

// QueryOp is a request for data, sent as BE EF 05 <op> <p0..p3> 5A.
type QueryOp byte

const (
	QueryState         QueryOp = 0x01
	QueryDeviceDetails QueryOp = 0x02
)

// controlOpNames maps wire ops to the names exposed by the HTTP API and
// the CLI.
var controlOpNames = map[string]ControlOp{
	"stop":               OpStop,
	"toggle-heating":     OpToggleHeating,
	"night-mode":         OpEnableNightMode,
	"high-speed":         OpEnableHighSpeed,
	"toggle-flow-lock":   OpToggleFlowLock,
	"speed-down":         OpSpeedDown,
	"speed-up":           OpSpeedUp,
	"flow-in-off":        OpFlowInOff,
	"speed-in-up":        OpSpeedInUp,
	"speed-in-down":      OpSpeedInDown,
	"flow-out-off":       OpFlowOutOff,
	"speed-out-up":       OpSpeedOutUp,
	"speed-out-down":     OpSpeedOutDown,
	"toggle-winter-mode": OpToggleWinterMode,
}

// ControlOpByName resolves a command name used by the HTTP API and CLI.
func ControlOpByName(name string) (ControlOp, bool) {
	op, ok := controlOpNames[name]
	return op, ok
}

// ControlOpNames returns the known command names in no particular order.
func ControlOpNames() []string {
	names := make([]string, 0, len(controlOpNames))
	for name := range controlOpNames {
		names = append(names, name)
	}
	return names
}

// Frame is a decoded protocol frame. Params holds the bytes between the
// code and the terminator for query frames, or the full payload region
// for long response frames.
type Frame struct {
	Category byte
	Code     byte
	Params   []byte
}

// EncodeControl builds a 4-byte keypress frame.
func EncodeControl(op ControlOp) []byte {
	return []byte{magic0, magic1, CategoryControl, byte(op)}
}

// EncodeQuery builds a 9-byte query frame with the fixed terminator.
func EncodeQuery(op QueryOp, params [4]byte) []byte {
	return []byte{magic0, magic1, CategoryQuery, byte(op), params[0], params[1], params[2], params[3], Terminator}
}

// EncodeReadState returns the state poll frame the firmware answers with
// a state response.
func EncodeReadState() []byte {
	return EncodeQuery(QueryState, [4]byte{})
}

// EncodeReadDeviceDetails returns the device-details poll frame.
func EncodeReadDeviceDetails() []byte {
	return EncodeQuery(QueryDeviceDetails, [4]byte{})
}

// Decode validates and splits a frame. It checks the magic prefix, the
// length bounds for the frame's category, and the terminator on query
// frames. Long frames (device responses) carry their payload in Params.
func Decode(data []byte) (Frame, error) {
	if len(data) < controlFrameLen || len(data) > MaxFrameLen {
		return Frame{}, fmt.Errorf("%w: length %d", ErrMalformedFrame, len(data))
	}
	if data[0] != magic0 || data[1] != magic1 {
		return Frame{}, fmt.Errorf("%w: bad magic %#02x%02x", ErrMalformedFrame, data[0], data[1])
	}

	f := Frame{Category: data[2], Code: data[3]}
	switch f.Category {
	case CategoryControl:
		if len(data) != controlFrameLen {
			return Frame{}, fmt.Errorf("%w: control frame length %d", ErrMalformedFrame, len(data))
		}
		return f, nil
	case CategoryQuery:
		if len(data) == queryFrameLen {
			if data[queryFrameLen-1] != Terminator {
				return Frame{}, fmt.Errorf("%w: bad terminator %#02x", ErrMalformedFrame, data[queryFrameLen-1])
			}
			f.Params = data[4 : queryFrameLen-1]
			return f, nil
		}
		if len(data) < MinStateFrameLen {
			return Frame{}, fmt.Errorf("%w: response length %d", ErrMalformedFrame, len(data))
		}
		f.Params = data[4:]
		return f, nil
	default:
		return Frame{}, fmt.Errorf("%w: unknown category %#02x", ErrMalformedFrame, f.Category)
	}
}

// SensorReadings is the optional sensor block present on newer firmware
// frames.
type SensorReadings struct {
	Humidity       int     `json:"humidity"`
	CO2            int     `json:"co2"`
	VOC            int     `json:"voc"`
	TemperatureIn  float64 `json:"temperature_in"`
	TemperatureOut float64 `json:"temperature_out"`
}

// State is a decoded device state snapshot.
type State struct {
	IsOn        bool `json:"is_on"`
	MiniHeating bool `json:"mini_heating"`
	NightMode   bool `json:"night_mode"`
	AutoMode    bool `json:"auto_mode"`
	FlowsLocked bool `json:"flows_locked"`
	WinterMode  bool `json:"winter_mode"`

	Speed       int  `json:"speed"`
	SpeedIn     int  `json:"speed_in"`
	SpeedOut    int  `json:"speed_out"`
	InputFanOn  bool `json:"input_fan_on"`
	OutputFanOn bool `json:"output_fan_on"`

	Sensors *SensorReadings `json:"sensors,omitempty"`
}

// DecodeState validates a response frame against the query it answers and
// extracts the state fields. The echoed category/opcode must match the
// state query; a mismatch is reported as ErrUnexpectedCommand so callers
// can distinguish a crossed response from a corrupt one.
func DecodeState(data []byte, expect QueryOp) (*State, error) {
	f, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if f.Category != CategoryQuery || QueryOp(f.Code) != expect {
		return nil, fmt.Errorf("%w: got %#02x/%#02x, want %#02x/%#02x",
			ErrUnexpectedCommand, f.Category, f.Code, CategoryQuery, byte(expect))
	}
	if len(data) < MinStateFrameLen {
		return nil, fmt.Errorf("%w: state frame length %d", ErrMalformedFrame, len(data))
	}

	s := &State{
		IsOn:        data[10] != 0,
		MiniHeating: data[14] != 0,
		NightMode:   data[16] != 0,
		AutoMode:    data[20] != 0,
		FlowsLocked: data[22] != 0,
		Speed:       int(data[26]) / 10,
		InputFanOn:  data[28] != 0,
		SpeedIn:     int(data[30]) / 10,
		OutputFanOn: data[32] != 0,
		SpeedOut:    int(data[34]) / 10,
		WinterMode:  data[42] != 0,
	}

	if len(data) >= sensorFrameLen {
		s.Sensors = &SensorReadings{
			TemperatureIn:  float64(int16(binary.BigEndian.Uint16(data[48:50]))) / 10,
			TemperatureOut: float64(int16(binary.BigEndian.Uint16(data[50:52]))) / 10,
			Humidity:       int(data[60] & 0x3F),
			CO2:            int(binary.BigEndian.Uint16(data[61:63]) & 0x3FFF),
			VOC:            int(binary.BigEndian.Uint16(data[63:65]) & 0x3FFF),
		}
	}

	return s, nil
}
