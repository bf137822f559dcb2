package rtde

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strings"
	"time"
)

const (
	// DefaultControllerPort is the TCP port the data exchange service
	// listens on.
	DefaultControllerPort = 30004

	// DefaultDialTimeout bounds the initial TCP connect
	DefaultDialTimeout = 5 * time.Second

	handshakeTimeout = 2 * time.Second
	writeTimeout     = 1 * time.Second
)

// ControllerVersion is the software version reported by the controller
type ControllerVersion struct {
	Major  uint32
	Minor  uint32
	Bugfix uint32
	Build  uint32
}

func (v ControllerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Bugfix, v.Build)
}

type outputRecipe struct {
	id     uint8
	fields []RecipeField
}

// Client speaks the cyclic data exchange protocol over one TCP connection.
// Methods are not safe for concurrent use; callers serialize access.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	log  Logger
	out  *outputRecipe
}

// Dial connects to a controller and returns an unnegotiated client
func Dial(addr string, timeout time.Duration, logger Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to controller at %s: %v", addr, err)
	}
	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection
func NewClient(conn net.Conn, logger Logger) *Client {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		log:  logger,
	}
}

// Close tears down the connection
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) sendPackage(t PackageType, payload []byte) error {
	LogPacket(c.log, "TX", uint8(t), payload)
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := WritePackage(c.conn, t, payload); err != nil {
		return fmt.Errorf("failed to send %v: %v", t, err)
	}
	return nil
}

// receive reads packages until one of the wanted type arrives. Text
// messages are logged and skipped; anything else unexpected is dropped.
func (c *Client) receive(want PackageType, timeout time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	for {
		t, payload, err := ReadPackage(c.r)
		if err != nil {
			return nil, fmt.Errorf("failed to read %v reply: %v", want, err)
		}
		LogPacket(c.log, "RX", uint8(t), payload)

		switch t {
		case want:
			return payload, nil
		case PkgTextMessage:
			if msg, err := decodeTextMessage(payload); err == nil {
				c.logTextMessage(msg)
			}
		default:
			c.log.Debug("Ignoring %v while waiting for %v", t, want)
		}
	}
}

// Negotiate requests protocol version 2. The controller either accepts or
// the session is unusable.
func (c *Client) Negotiate() error {
	payload := binary.BigEndian.AppendUint16(nil, ProtocolVersion)
	if err := c.sendPackage(PkgRequestProtocolVersion, payload); err != nil {
		return err
	}
	reply, err := c.receive(PkgRequestProtocolVersion, handshakeTimeout)
	if err != nil {
		return err
	}
	if len(reply) < 1 || reply[0] != 1 {
		return fmt.Errorf("controller rejected protocol version %d", ProtocolVersion)
	}
	c.log.Debug("Negotiated protocol version %d", ProtocolVersion)
	return nil
}

// Version queries the controller software version
func (c *Client) Version() (ControllerVersion, error) {
	if err := c.sendPackage(PkgGetURControlVersion, nil); err != nil {
		return ControllerVersion{}, err
	}
	reply, err := c.receive(PkgGetURControlVersion, handshakeTimeout)
	if err != nil {
		return ControllerVersion{}, err
	}
	if len(reply) != 16 {
		return ControllerVersion{}, fmt.Errorf("version reply is %d bytes, want 16", len(reply))
	}
	return ControllerVersion{
		Major:  binary.BigEndian.Uint32(reply[0:4]),
		Minor:  binary.BigEndian.Uint32(reply[4:8]),
		Bugfix: binary.BigEndian.Uint32(reply[8:12]),
		Build:  binary.BigEndian.Uint32(reply[12:16]),
	}, nil
}

// SetupInputs registers the variables this client will write each cycle
func (c *Client) SetupInputs(fields []RecipeField) (*InputRecipe, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("input recipe is empty")
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	if err := c.sendPackage(PkgControlSetupInputs, []byte(strings.Join(names, ","))); err != nil {
		return nil, err
	}
	reply, err := c.receive(PkgControlSetupInputs, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	id, err := parseRecipeReply("input", fields, reply)
	if err != nil {
		return nil, err
	}
	c.log.Debug("Input recipe %d accepted (%s)", id, strings.Join(names, ","))

	recipe := &InputRecipe{
		id:     id,
		fields: fields,
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		recipe.index[f.Name] = i
	}
	return recipe, nil
}

// SetupOutputs registers the variables the controller will publish at the
// given frequency
func (c *Client) SetupOutputs(fields []RecipeField, frequency float64) error {
	if len(fields) == 0 {
		return fmt.Errorf("output recipe is empty")
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}

	payload := make([]byte, 0, 8+len(names)*16)
	payload = binary.BigEndian.AppendUint64(payload, math.Float64bits(frequency))
	payload = append(payload, []byte(strings.Join(names, ","))...)

	if err := c.sendPackage(PkgControlSetupOutputs, payload); err != nil {
		return err
	}
	reply, err := c.receive(PkgControlSetupOutputs, handshakeTimeout)
	if err != nil {
		return err
	}
	id, err := parseRecipeReply("output", fields, reply)
	if err != nil {
		return err
	}
	c.log.Debug("Output recipe %d accepted at %.1f Hz (%s)", id, frequency, strings.Join(names, ","))

	c.out = &outputRecipe{id: id, fields: fields}
	return nil
}

// parseRecipeReply validates a recipe setup reply against the declared
// fields and returns the assigned recipe id.
func parseRecipeReply(kind string, declared []RecipeField, reply []byte) (uint8, error) {
	if len(reply) < 1 {
		return 0, fmt.Errorf("empty %s recipe reply", kind)
	}
	id := reply[0]
	types := strings.Split(string(reply[1:]), ",")
	if len(types) != len(declared) {
		return 0, fmt.Errorf("%s recipe reply lists %d types, recipe has %d fields", kind, len(types), len(declared))
	}
	for i, typeName := range types {
		field := declared[i]
		switch typeName {
		case "NOT_FOUND":
			return 0, fmt.Errorf("%s variable %q is not available on this controller", kind, field.Name)
		case "IN_USE":
			return 0, fmt.Errorf("%s variable %q is claimed by another client", kind, field.Name)
		}
		got, ok := ParseVarType(typeName)
		if !ok {
			return 0, fmt.Errorf("%s variable %q has unknown controller type %q", kind, field.Name, typeName)
		}
		if got != field.Type {
			return 0, fmt.Errorf("%s variable %q is %v on the controller, recipe declares %v", kind, field.Name, got, field.Type)
		}
	}
	return id, nil
}

// Start asks the controller to begin cyclic data exchange
func (c *Client) Start() error {
	if err := c.sendPackage(PkgControlStart, nil); err != nil {
		return err
	}
	reply, err := c.receive(PkgControlStart, handshakeTimeout)
	if err != nil {
		return err
	}
	if len(reply) < 1 || reply[0] != 1 {
		return fmt.Errorf("controller refused to start data exchange")
	}
	return nil
}

// Pause asks the controller to stop cyclic data exchange
func (c *Client) Pause() error {
	if err := c.sendPackage(PkgControlPause, nil); err != nil {
		return err
	}
	reply, err := c.receive(PkgControlPause, handshakeTimeout)
	if err != nil {
		return err
	}
	if len(reply) < 1 || reply[0] != 1 {
		return fmt.Errorf("controller refused to pause data exchange")
	}
	return nil
}

// InputRecipe is an accepted set of writable variables
type InputRecipe struct {
	id     uint8
	fields []RecipeField
	index  map[string]int
}

// NewPackage allocates a package with all fields unset
func (r *InputRecipe) NewPackage() *InputPackage {
	return &InputPackage{
		recipe: r,
		values: make([]Value, len(r.fields)),
	}
}

// InputPackage is one cycle's worth of input values
type InputPackage struct {
	recipe *InputRecipe
	values []Value
}

func (p *InputPackage) set(name string, t VarType, v Value) error {
	i, ok := p.recipe.index[name]
	if !ok {
		return fmt.Errorf("input recipe has no field %q", name)
	}
	if p.recipe.fields[i].Type != t {
		return fmt.Errorf("input field %q is %v, not %v", name, p.recipe.fields[i].Type, t)
	}
	v.Type = t
	p.values[i] = v
	return nil
}

// SetBool assigns a BOOL input field
func (p *InputPackage) SetBool(name string, val bool) error {
	return p.set(name, TypeBool, Value{Bool: val})
}

// SetUint32 assigns a UINT32 input field
func (p *InputPackage) SetUint32(name string, val uint32) error {
	return p.set(name, TypeUint32, Value{Uint: uint64(val)})
}

// SetDouble assigns a DOUBLE input field
func (p *InputPackage) SetDouble(name string, val float64) error {
	return p.set(name, TypeDouble, Value{Double: val})
}

// Send transmits one input package. Every field must have been set.
func (c *Client) Send(p *InputPackage) error {
	payload := make([]byte, 0, 64)
	payload = append(payload, p.recipe.id)
	for i, v := range p.values {
		if v.Type == TypeInvalid {
			return fmt.Errorf("input field %q was never set", p.recipe.fields[i].Name)
		}
		var err error
		payload, err = appendValue(payload, v)
		if err != nil {
			return err
		}
	}
	return c.sendPackage(PkgDataPackage, payload)
}

// OutputState is one decoded cycle of controller outputs
type OutputState struct {
	fields []RecipeField
	values []Value
	index  map[string]int
}

// Double reads a DOUBLE output field
func (s *OutputState) Double(name string) (float64, bool) {
	i, ok := s.index[name]
	if !ok || s.fields[i].Type != TypeDouble {
		return 0, false
	}
	return s.values[i].Double, true
}

// Vector6D reads a VECTOR6D output field
func (s *OutputState) Vector6D(name string) ([6]float64, bool) {
	i, ok := s.index[name]
	if !ok || s.fields[i].Type != TypeVector6D {
		return [6]float64{}, false
	}
	return s.values[i].Vector, true
}

// ReadOutputs blocks for the next data package, then drains any packages
// already buffered and returns the freshest one. The controller publishes on
// its own clock; without the drain a slow caller would fall behind and read
// ever staler cycles.
func (c *Client) ReadOutputs(timeout time.Duration) (*OutputState, error) {
	if c.out == nil {
		return nil, fmt.Errorf("outputs are not configured")
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	var state *OutputState
	for state == nil {
		if err := c.awaitPackage(); err != nil {
			return nil, fmt.Errorf("failed to read data package: %v", err)
		}
		t, payload, err := ReadPackage(c.r)
		if err != nil {
			return nil, fmt.Errorf("failed to read data package: %v", err)
		}
		LogPacket(c.log, "RX", uint8(t), payload)
		state, err = c.handleCyclicPackage(t, payload)
		if err != nil {
			return nil, err
		}
	}

	// Drain whatever arrived while we were away, keeping only complete
	// packages so the stream never desyncs mid-frame.
	for {
		n := c.r.Buffered()
		if n < headerSize {
			break
		}
		hdr, err := c.r.Peek(2)
		if err != nil {
			break
		}
		if n < int(binary.BigEndian.Uint16(hdr)) {
			break
		}
		t, payload, err := ReadPackage(c.r)
		if err != nil {
			return nil, fmt.Errorf("failed to drain data package: %v", err)
		}
		LogPacket(c.log, "RX", uint8(t), payload)
		next, err := c.handleCyclicPackage(t, payload)
		if err != nil {
			return nil, err
		}
		if next != nil {
			state = next
		}
	}

	return state, nil
}

// awaitPackage blocks until one complete package is buffered. Peek fills the
// buffer without consuming, so a deadline that expires mid-frame leaves the
// stream on a package boundary for the next call.
func (c *Client) awaitPackage() error {
	hdr, err := c.r.Peek(headerSize)
	if err != nil {
		return err
	}
	size := int(binary.BigEndian.Uint16(hdr[0:2]))
	if size < headerSize || size > maxPackageSize {
		return fmt.Errorf("invalid package size %d", size)
	}
	_, err = c.r.Peek(size)
	return err
}

// handleCyclicPackage decodes a package seen during cyclic exchange. Returns
// a nil state for packages that carry no output data.
func (c *Client) handleCyclicPackage(t PackageType, payload []byte) (*OutputState, error) {
	switch t {
	case PkgDataPackage:
		return c.decodeOutputs(payload)
	case PkgTextMessage:
		if msg, err := decodeTextMessage(payload); err == nil {
			c.logTextMessage(msg)
		}
		return nil, nil
	default:
		c.log.Debug("Ignoring %v during cyclic exchange", t)
		return nil, nil
	}
}

func (c *Client) decodeOutputs(payload []byte) (*OutputState, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("data package has no recipe id")
	}
	if payload[0] != c.out.id {
		c.log.Debug("Ignoring data package for recipe %d, ours is %d", payload[0], c.out.id)
		return nil, nil
	}

	state := &OutputState{
		fields: c.out.fields,
		values: make([]Value, len(c.out.fields)),
		index:  make(map[string]int, len(c.out.fields)),
	}
	rest := payload[1:]
	for i, f := range c.out.fields {
		var err error
		state.values[i], rest, err = decodeValue(rest, f.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to decode output %q: %v", f.Name, err)
		}
		state.index[f.Name] = i
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("data package has %d trailing bytes", len(rest))
	}
	return state, nil
}

func (c *Client) logTextMessage(msg TextMessage) {
	switch msg.Level {
	case MsgLevelException, MsgLevelError:
		c.log.Error("Controller [%s]: %s", msg.Source, msg.Message)
	case MsgLevelWarning:
		c.log.Warn("Controller [%s]: %s", msg.Source, msg.Message)
	default:
		c.log.Info("Controller [%s]: %s", msg.Source, msg.Message)
	}
}
