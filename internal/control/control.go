// Package control implements the camera control channel: fixed-size command
// records written to the command characteristic, and the settings record the
// camera serves (and pushes) on the settings characteristic.
//
// Every control action is a single command write. The camera does not echo
// state in the write response; callers that need the resulting configuration
// re-read it with GetCameraSettings or observe it through
// SubscribeToCameraSettings.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

var (
	commandAddr  = gatt.Address{Service: uuids.ServiceHID, Characteristic: uuids.CharCameraCommand}
	settingsAddr = gatt.Address{Service: uuids.ServiceHID, Characteristic: uuids.CharCameraSettings}
)

// Connections is the slice of the connection manager the controller needs.
type Connections interface {
	Transport(id string) (gatt.Transport, error)
}

// Controller issues camera control commands to connected devices.
type Controller struct {
	conns   Connections
	logger  *logrus.Logger
	timeout time.Duration
}

// New creates a controller bound to the manager's connections.
func New(conns Connections, cfg *config.Config, logger *logrus.Logger) *Controller {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		conns:   conns,
		logger:  logger,
		timeout: cfg.RequestTimeout,
	}
}

// command writes one command record to the device's command characteristic.
func (c *Controller) command(ctx context.Context, id string, cmd Command) error {
	transport, err := c.conns.Transport(id)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := transport.Write(wctx, commandAddr, EncodeCommand(cmd), true); err != nil {
		return fmt.Errorf("camera command %s: %w", cmd.Opcode, gatt.NormalizeError(err))
	}

	c.logger.WithFields(logrus.Fields{
		"device":  id,
		"command": cmd.Opcode.String(),
	}).Debug("Camera command sent")
	return nil
}

// StartRecording starts recording with the camera's current settings.
func (c *Controller) StartRecording(ctx context.Context, id string) error {
	return c.command(ctx, id, Command{Opcode: OpRecordStart})
}

// StopRecording stops an active recording.
func (c *Controller) StopRecording(ctx context.Context, id string) error {
	return c.command(ctx, id, Command{Opcode: OpRecordStop})
}

// ToggleRecording flips the recording state.
func (c *Controller) ToggleRecording(ctx context.Context, id string) error {
	return c.command(ctx, id, Command{Opcode: OpRecordToggle})
}

// SetAutoFocus triggers a one-shot autofocus.
func (c *Controller) SetAutoFocus(ctx context.Context, id string) error {
	return c.command(ctx, id, Command{Opcode: OpFocusAuto})
}

// SetManualFocus moves the focus motor to position (0 near, 65535 far).
func (c *Controller) SetManualFocus(ctx context.Context, id string, position uint16) error {
	return c.command(ctx, id, Command{Opcode: OpFocusManual, Param0: uint32(position)})
}

// SetExposure sets the shutter exposure time in microseconds.
func (c *Controller) SetExposure(ctx context.Context, id string, us uint32) error {
	return c.command(ctx, id, Command{Opcode: OpExposureSet, Param0: us})
}

// SetISO sets the sensor ISO.
func (c *Controller) SetISO(ctx context.Context, id string, iso uint32) error {
	return c.command(ctx, id, Command{Opcode: OpISOSet, Param0: iso})
}

// SetWhiteBalance sets the white balance in Kelvin and the green/magenta
// tint. Tint rides in param1 as a two's-complement u32.
func (c *Controller) SetWhiteBalance(ctx context.Context, id string, kelvin uint32, tint int32) error {
	return c.command(ctx, id, Command{
		Opcode: OpWhiteBalanceSet,
		Param0: kelvin,
		Param1: uint32(tint),
	})
}

// SetFrameRate sets the project frame rate.
func (c *Controller) SetFrameRate(ctx context.Context, id string, rate FrameRate) error {
	return c.command(ctx, id, Command{Opcode: OpFrameRateSet, Param0: uint32(rate)})
}

// SetResolution sets the recording resolution.
func (c *Controller) SetResolution(ctx context.Context, id string, res Resolution) error {
	return c.command(ctx, id, Command{Opcode: OpResolutionSet, Param0: uint32(res)})
}

// SetCodec sets the recording codec.
func (c *Controller) SetCodec(ctx context.Context, id string, codec Codec) error {
	return c.command(ctx, id, Command{Opcode: OpCodecSet, Param0: uint32(codec)})
}

// SetColorSpace sets the recording color space.
func (c *Controller) SetColorSpace(ctx context.Context, id string, cs ColorSpace) error {
	return c.command(ctx, id, Command{Opcode: OpColorSpaceSet, Param0: uint32(cs)})
}

// GetCameraSettings reads and decodes the current settings record.
func (c *Controller) GetCameraSettings(ctx context.Context, id string) (*CameraSettings, error) {
	transport, err := c.conns.Transport(id)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := transport.Read(rctx, settingsAddr)
	if err != nil {
		return nil, fmt.Errorf("read camera settings: %w", gatt.NormalizeError(err))
	}
	return DecodeSettings(raw)
}

// SubscribeToCameraSettings delivers every device-initiated settings change,
// decoded. Malformed notifications are logged and dropped, they never reach
// the callback.
func (c *Controller) SubscribeToCameraSettings(id string, fn func(*CameraSettings)) (gatt.Unsubscribe, error) {
	transport, err := c.conns.Transport(id)
	if err != nil {
		return nil, err
	}

	return transport.Subscribe(settingsAddr, func(payload []byte) {
		settings, err := DecodeSettings(payload)
		if err != nil {
			c.logger.WithError(err).WithField("device", id).Warn("Dropping malformed settings notification")
			return
		}
		fn(settings)
	})
}
