package broadcast

import (
	"encoding/binary"

	"github.com/sessamekesh/scenelink/pkg/errors"
)

// BroadcastType is the stable tag the receiver routes a frame by. Tags never change
// meaning once shipped; new broadcasts get new tags.
type BroadcastType uint16

const (
	BroadcastType_NONE BroadcastType = 0x0000

	BroadcastType_LoadScenes         BroadcastType = 0x0001
	BroadcastType_UnloadScenes       BroadcastType = 0x0002
	BroadcastType_ClientScenesLoaded BroadcastType = 0x0003

	BroadcastType_Challenge    BroadcastType = 0x0010
	BroadcastType_Password     BroadcastType = 0x0011
	BroadcastType_Token        BroadcastType = 0x0012
	BroadcastType_AuthResponse BroadcastType = 0x0013

	// Application broadcasts start here. Everything below is reserved.
	BroadcastType_AppMessageStart BroadcastType = 0x0100
)

const (
	DefaultMagicNumber uint32 = 0x4B4E4C53
	DefaultVersion     uint8  = 0

	// magic (4) + version (1) + type (2)
	HeaderSize = 7
)

func (t BroadcastType) String() string {
	switch t {
	case BroadcastType_LoadScenes:
		return "LoadScenes"
	case BroadcastType_UnloadScenes:
		return "UnloadScenes"
	case BroadcastType_ClientScenesLoaded:
		return "ClientScenesLoaded"
	case BroadcastType_Challenge:
		return "Challenge"
	case BroadcastType_Password:
		return "Password"
	case BroadcastType_Token:
		return "Token"
	case BroadcastType_AuthResponse:
		return "AuthResponse"
	}
	if t >= BroadcastType_AppMessageStart {
		return "AppMessage"
	}
	return "NONE"
}

// Broadcast is any message that can be framed and sent between server and client.
type Broadcast interface {
	BroadcastType() BroadcastType
	// AppendPayload appends the serialized fields, in declaration order, to out.
	AppendPayload(out []byte) ([]byte, error)
}

// Envelope is a parsed frame whose payload has not been decoded yet.
type Envelope struct {
	MagicNumber uint32
	Version     uint8
	Type        BroadcastType
	Payload     []byte
}

type BroadcastSerializer struct {
	MagicNumber uint32
	Version     uint8
}

func CreateDefaultSerializer() BroadcastSerializer {
	return BroadcastSerializer{
		MagicNumber: DefaultMagicNumber,
		Version:     DefaultVersion,
	}
}

func (s BroadcastSerializer) SerializeBroadcast(b Broadcast) ([]byte, error) {
	if b == nil {
		return nil, &errors.MissingFieldError{
			MessageName: "Envelope",
			FieldName:   "Broadcast",
		}
	}

	broadcastType := b.BroadcastType()
	if broadcastType == BroadcastType_NONE {
		return nil, &errors.InvalidEnumValue{
			EnumName: "BroadcastType",
			IntValue: uint16(broadcastType),
		}
	}

	out := make([]byte, 0, 64)
	out = binary.LittleEndian.AppendUint32(out, s.MagicNumber)
	out = append(out, s.Version<<4)
	out = binary.LittleEndian.AppendUint16(out, uint16(broadcastType))

	return b.AppendPayload(out)
}

func (s BroadcastSerializer) Parse(msg []byte) (*Envelope, error) {
	if len(msg) < HeaderSize {
		return nil, &errors.Underflow{
			MessageName: "Envelope",
			MsgSize:     len(msg),
			MinimumSize: HeaderSize,
		}
	}

	magicNumber := binary.LittleEndian.Uint32(msg[0:4])
	version := msg[4] & 0xF0 >> 4
	broadcastType := BroadcastType(binary.LittleEndian.Uint16(msg[5:7]))

	if magicNumber != s.MagicNumber || version != s.Version {
		return nil, &errors.InvalidHeaderVersion{
			ExpectedMagicNumber: s.MagicNumber,
			ExpectedVersion:     s.Version,
			ActualMagicNumber:   magicNumber,
			ActualVersion:       version,
		}
	}

	if broadcastType == BroadcastType_NONE {
		return nil, &errors.InvalidEnumValue{
			EnumName: "BroadcastType",
			IntValue: uint16(broadcastType),
		}
	}

	return &Envelope{
		MagicNumber: magicNumber,
		Version:     version,
		Type:        broadcastType,
		Payload:     msg[HeaderSize:],
	}, nil
}

// AppBroadcast carries an application-defined type with an opaque payload.
type AppBroadcast struct {
	Type BroadcastType
	Data []byte
}

func (b *AppBroadcast) BroadcastType() BroadcastType { return b.Type }

func (b *AppBroadcast) AppendPayload(out []byte) ([]byte, error) {
	if b.Type < BroadcastType_AppMessageStart {
		return nil, &errors.InvalidEnumValue{
			EnumName: "AppBroadcast::Type",
			IntValue: uint16(b.Type),
		}
	}
	return append(out, b.Data...), nil
}
