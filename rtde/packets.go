package rtde

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion is the only protocol revision this client speaks
const ProtocolVersion = 2

// PackageType identifies a protocol package
type PackageType uint8

const (
	PkgRequestProtocolVersion PackageType = 86  // 'V'
	PkgGetURControlVersion    PackageType = 118 // 'v'
	PkgTextMessage            PackageType = 77  // 'M'
	PkgDataPackage            PackageType = 85  // 'U'
	PkgControlSetupOutputs    PackageType = 79  // 'O'
	PkgControlSetupInputs     PackageType = 73  // 'I'
	PkgControlStart           PackageType = 83  // 'S'
	PkgControlPause           PackageType = 80  // 'P'
)

func (t PackageType) String() string {
	switch t {
	case PkgRequestProtocolVersion:
		return "REQUEST_PROTOCOL_VERSION"
	case PkgGetURControlVersion:
		return "GET_URCONTROL_VERSION"
	case PkgTextMessage:
		return "TEXT_MESSAGE"
	case PkgDataPackage:
		return "DATA_PACKAGE"
	case PkgControlSetupOutputs:
		return "CONTROL_PACKAGE_SETUP_OUTPUTS"
	case PkgControlSetupInputs:
		return "CONTROL_PACKAGE_SETUP_INPUTS"
	case PkgControlStart:
		return "CONTROL_PACKAGE_START"
	case PkgControlPause:
		return "CONTROL_PACKAGE_PAUSE"
	default:
		return fmt.Sprintf("PackageType(%d)", uint8(t))
	}
}

const (
	// Package header: uint16 size (header included) + uint8 type
	headerSize = 3

	// Upper bound on a sane package; anything larger means a desynced or
	// hostile stream.
	maxPackageSize = 4096
)

// WritePackage frames and writes a single protocol package
func WritePackage(w io.Writer, t PackageType, payload []byte) error {
	size := headerSize + len(payload)
	if size > maxPackageSize {
		return fmt.Errorf("package of %d bytes exceeds protocol limit", size)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(size))
	buf[2] = uint8(t)
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadPackage reads a single framed package
func ReadPackage(r *bufio.Reader) (PackageType, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}

	size := int(binary.BigEndian.Uint16(hdr[0:2]))
	if size < headerSize || size > maxPackageSize {
		return 0, nil, fmt.Errorf("invalid package size %d", size)
	}

	payload := make([]byte, size-headerSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}

	return PackageType(hdr[2]), payload, nil
}

// Text message severity levels as reported by the controller
const (
	MsgLevelException uint8 = 0
	MsgLevelError     uint8 = 1
	MsgLevelWarning   uint8 = 2
	MsgLevelInfo      uint8 = 3
)

// TextMessage is an asynchronous controller log line
type TextMessage struct {
	Message string
	Source  string
	Level   uint8
}

func decodeTextMessage(payload []byte) (TextMessage, error) {
	var msg TextMessage

	if len(payload) < 1 {
		return msg, fmt.Errorf("empty text message")
	}
	msgLen := int(payload[0])
	rest := payload[1:]
	if len(rest) < msgLen {
		return msg, fmt.Errorf("truncated text message body")
	}
	msg.Message = string(rest[:msgLen])
	rest = rest[msgLen:]

	if len(rest) < 1 {
		return msg, fmt.Errorf("text message missing source")
	}
	srcLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < srcLen {
		return msg, fmt.Errorf("truncated text message source")
	}
	msg.Source = string(rest[:srcLen])
	rest = rest[srcLen:]

	if len(rest) < 1 {
		return msg, fmt.Errorf("text message missing level")
	}
	msg.Level = rest[0]

	return msg, nil
}
