package rtmp

import (
	"math"

	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/amf/amf0"
	"github.com/torresjeff/go-rtmp/config"
)

// CommandChannelID is the chunk stream used for NetConnection commands.
const CommandChannelID = 3

const NetConnectionSucces = "NetConnection.Connect.Success"

const (
	CommandConnect      = "connect"
	CommandCreateStream = "createStream"
	CommandDeleteStream = "deleteStream"
	CommandResult       = "_result"
	CommandError        = "_error"
)

// EncodeStreamID returns the wire form of a stream id. AMF0 predates integer types, so commands carry
// stream ids as Numbers.
func EncodeStreamID(id uint32) float64 {
	return float64(id)
}

// DecodeStreamID converts a decoded AMF0 value back into a stream id. Anything that is not an integral
// Number in the uint32 range is rejected with ErrInvalidStreamID.
func DecodeStreamID(v interface{}) (uint32, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, errors.Wrapf(ErrInvalidStreamID, "stream id of type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < 0 || f > math.MaxUint32 {
		return 0, errors.Wrapf(ErrInvalidStreamID, "stream id %v", f)
	}
	return uint32(f), nil
}

// Command is an AMF0 command message: a name, a transaction id, a command object and optional
// arguments.
type Command struct {
	Name          string
	TransactionID float64
	Object        interface{}
	Args          []interface{}
}

// ParseCommand decodes the body of an AMF0 command message.
func ParseCommand(payload []byte) (*Command, error) {
	values, err := amf0.DecodeAll(payload)
	if err != nil {
		return nil, errors.Wrap(err, "decode command")
	}
	if len(values) < 2 {
		return nil, errors.Errorf("rtmp: command has %d values, want at least 2", len(values))
	}
	name, ok := values[0].(string)
	if !ok {
		return nil, errors.Errorf("rtmp: command name of type %T", values[0])
	}
	transactionID, ok := values[1].(float64)
	if !ok {
		return nil, errors.Errorf("rtmp: transaction id of type %T", values[1])
	}
	c := &Command{Name: name, TransactionID: transactionID}
	if len(values) > 2 {
		c.Object = values[2]
		c.Args = values[3:]
	}
	return c, nil
}

func (c *Command) Encode() ([]byte, error) {
	values := append([]interface{}{c.Name, c.TransactionID, c.Object}, c.Args...)
	return amf0.EncodeAll(values...)
}

// Message wraps the command in a message on the given message stream.
func (c *Command) Message(streamID uint32) (*Message, error) {
	payload, err := c.Encode()
	if err != nil {
		return nil, err
	}
	return &Message{
		ChannelID: CommandChannelID,
		Type:      CommandMessageAMF0,
		StreamID:  streamID,
		Payload:   payload,
	}, nil
}

func NewConnectCommand(transactionID float64, app, tcURL string) *Command {
	return &Command{
		Name:          CommandConnect,
		TransactionID: transactionID,
		Object: map[string]interface{}{
			"app":            app,
			"flashVer":       "LNX 9,0,124,2",
			"tcUrl":          tcURL,
			"fpad":           false,
			"capabilities":   15,
			"audioCodecs":    4071,
			"videoCodecs":    252,
			"videoFunction":  1,
			"objectEncoding": 0,
		},
	}
}

func NewConnectResult(transactionID float64) *Command {
	return &Command{
		Name:          CommandResult,
		TransactionID: transactionID,
		Object: map[string]interface{}{
			"fmsVer":       config.FlashMediaServerVersion,
			"capabilities": config.Capabilities,
			"mode":         config.Mode,
		},
		Args: []interface{}{map[string]interface{}{
			"code":        NetConnectionSucces,
			"level":       "status",
			"description": "Connection accepted.",
			"data": map[string]interface{}{
				"string": "3,5,7,7009",
			},
			"objectEncoding": 0, // AMFVersion0
		}},
	}
}

func NewCreateStreamCommand(transactionID float64) *Command {
	return &Command{Name: CommandCreateStream, TransactionID: transactionID}
}

// NewCreateStreamResult answers createStream with the id of the stream that was opened.
// Subsequent messages for that stream are sent with this message stream id.
func NewCreateStreamResult(transactionID float64, streamID uint32) *Command {
	return &Command{
		Name:          CommandResult,
		TransactionID: transactionID,
		Args:          []interface{}{EncodeStreamID(streamID)},
	}
}

// NewErrorResult answers a command that failed.
func NewErrorResult(transactionID float64, code, description string) *Command {
	return &Command{
		Name:          CommandError,
		TransactionID: transactionID,
		Args: []interface{}{map[string]interface{}{
			"level":       "error",
			"code":        code,
			"description": description,
		}},
	}
}

func NewDeleteStreamCommand(streamID uint32) *Command {
	return &Command{
		Name: CommandDeleteStream,
		Args: []interface{}{EncodeStreamID(streamID)},
	}
}

// StreamIDArg returns the stream id carried as the first argument of deleteStream and of the
// createStream result.
func (c *Command) StreamIDArg() (uint32, error) {
	if len(c.Args) == 0 {
		return 0, errors.Wrapf(ErrInvalidStreamID, "%s has no stream id", c.Name)
	}
	return DecodeStreamID(c.Args[0])
}
