package driver

import "context"

// StartRecording starts recording with the camera's current settings.
func (d *Driver) StartRecording(ctx context.Context, id string) error {
	return d.control.StartRecording(ctx, id)
}

// StopRecording stops an active recording.
func (d *Driver) StopRecording(ctx context.Context, id string) error {
	return d.control.StopRecording(ctx, id)
}

// ToggleRecording flips the recording state.
func (d *Driver) ToggleRecording(ctx context.Context, id string) error {
	return d.control.ToggleRecording(ctx, id)
}

// SetAutoFocus triggers a one-shot autofocus.
func (d *Driver) SetAutoFocus(ctx context.Context, id string) error {
	return d.control.SetAutoFocus(ctx, id)
}

// SetManualFocus moves the focus motor to position (0 near, 65535 far).
func (d *Driver) SetManualFocus(ctx context.Context, id string, position uint16) error {
	return d.control.SetManualFocus(ctx, id, position)
}

// SetExposure sets the shutter exposure time in microseconds.
func (d *Driver) SetExposure(ctx context.Context, id string, us uint32) error {
	return d.control.SetExposure(ctx, id, us)
}

// SetISO sets the sensor ISO.
func (d *Driver) SetISO(ctx context.Context, id string, iso uint32) error {
	return d.control.SetISO(ctx, id, iso)
}

// SetWhiteBalance sets the white balance in Kelvin and the green/magenta tint.
func (d *Driver) SetWhiteBalance(ctx context.Context, id string, kelvin uint32, tint int32) error {
	return d.control.SetWhiteBalance(ctx, id, kelvin, tint)
}

// SetFrameRate sets the project frame rate.
func (d *Driver) SetFrameRate(ctx context.Context, id string, rate FrameRate) error {
	return d.control.SetFrameRate(ctx, id, rate)
}

// SetResolution sets the recording resolution.
func (d *Driver) SetResolution(ctx context.Context, id string, res Resolution) error {
	return d.control.SetResolution(ctx, id, res)
}

// SetCodec sets the recording codec.
func (d *Driver) SetCodec(ctx context.Context, id string, codec Codec) error {
	return d.control.SetCodec(ctx, id, codec)
}

// SetColorSpace sets the recording color space.
func (d *Driver) SetColorSpace(ctx context.Context, id string, cs ColorSpace) error {
	return d.control.SetColorSpace(ctx, id, cs)
}

// GetCameraSettings reads the camera's current settings record.
func (d *Driver) GetCameraSettings(ctx context.Context, id string) (*CameraSettings, error) {
	return d.control.GetCameraSettings(ctx, id)
}

// SubscribeToCameraSettings delivers every device-initiated settings change.
func (d *Driver) SubscribeToCameraSettings(id string, fn func(*CameraSettings)) (Unsubscribe, error) {
	return d.control.SubscribeToCameraSettings(id, fn)
}
