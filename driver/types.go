package driver

import (
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/control"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/dfu"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/ftp"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/gatt"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/opp"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/telemetry"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/timecode"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/manager"
)

// The driver's public vocabulary. Every type a caller touches is an alias
// of the owning module's original, so values flow between the driver API
// and module-level code without conversion.

// Unsubscribe detaches a listener registered with any On* method.
type Unsubscribe = gatt.Unsubscribe

// Discovery and connections.
type (
	Device          = manager.Device
	DeviceEvent     = manager.DeviceEvent
	DeviceEventType = manager.DeviceEventType
	ConnectionState = manager.ConnectionState
	ScanState       = manager.ScanState
	ScanOptions     = manager.ScanOptions
	ConnectOptions  = manager.ConnectOptions
)

const (
	EventNew     = manager.EventNew
	EventUpdated = manager.EventUpdated

	StateDisconnected  = manager.StateDisconnected
	StateConnecting    = manager.StateConnecting
	StateConnected     = manager.StateConnected
	StateDisconnecting = manager.StateDisconnecting

	ScanStopped  = manager.ScanStopped
	ScanStarting = manager.ScanStarting
	ScanActive   = manager.ScanActive
	ScanStopping = manager.ScanStopping
)

// Camera control.
type (
	CameraSettings = control.CameraSettings
	FrameRate      = control.FrameRate
	Resolution     = control.Resolution
	Codec          = control.Codec
	ColorSpace     = control.ColorSpace
)

const (
	FrameRate23_98 = control.FrameRate23_98
	FrameRate24    = control.FrameRate24
	FrameRate25    = control.FrameRate25
	FrameRate29_97 = control.FrameRate29_97
	FrameRate30    = control.FrameRate30
	FrameRate50    = control.FrameRate50
	FrameRate59_94 = control.FrameRate59_94
	FrameRate60    = control.FrameRate60

	ResolutionHD    = control.ResolutionHD
	Resolution2KDCI = control.Resolution2KDCI
	ResolutionUHD   = control.ResolutionUHD
	Resolution4KDCI = control.Resolution4KDCI
	Resolution6K    = control.Resolution6K
	Resolution8K    = control.Resolution8K

	CodecBRAW3to1    = control.CodecBRAW3to1
	CodecBRAW5to1    = control.CodecBRAW5to1
	CodecBRAW8to1    = control.CodecBRAW8to1
	CodecBRAW12to1   = control.CodecBRAW12to1
	CodecBRAWQ0      = control.CodecBRAWQ0
	CodecBRAWQ1      = control.CodecBRAWQ1
	CodecBRAWQ3      = control.CodecBRAWQ3
	CodecBRAWQ5      = control.CodecBRAWQ5
	CodecProResHQ    = control.CodecProResHQ
	CodecProRes422   = control.CodecProRes422
	CodecProResLT    = control.CodecProResLT
	CodecProResProxy = control.CodecProResProxy

	ColorSpaceFilm          = control.ColorSpaceFilm
	ColorSpaceVideo         = control.ColorSpaceVideo
	ColorSpaceExtendedVideo = control.ColorSpaceExtendedVideo
)

// File transfer. Progress types carry the Transfer prefix here because
// uploads and firmware updates report progress with their own shapes.
type (
	DirectoryListing     = ftp.DirectoryListing
	DirectoryEntry       = ftp.DirectoryEntry
	FileInfo             = ftp.FileInfo
	FileFormat           = ftp.FileFormat
	DownloadOptions      = ftp.DownloadOptions
	TransferItem         = ftp.TransferItem
	TransferStatus       = ftp.TransferStatus
	TransferProgress     = ftp.Progress
	TransferProgressFunc = ftp.ProgressFunc
)

const (
	FormatUnknown = ftp.FormatUnknown
	FormatBRAW    = ftp.FormatBRAW
	FormatProRes  = ftp.FormatProRes
	FormatDNG     = ftp.FormatDNG
	FormatJPEG    = ftp.FormatJPEG
	FormatWAV     = ftp.FormatWAV
	FormatLUT     = ftp.FormatLUT

	TransferPending      = ftp.TransferPending
	TransferTransferring = ftp.TransferTransferring
	TransferCompleted    = ftp.TransferCompleted
	TransferFailed       = ftp.TransferFailed
)

// Uploads and the upload queue.
type (
	LUT                = opp.LUT
	UploadOptions      = opp.UploadOptions
	UploadRequest      = opp.UploadRequest
	QueueItem          = opp.QueueItem
	Priority           = opp.Priority
	QueueStatus        = opp.QueueStatus
	UploadProgress     = opp.Progress
	UploadProgressFunc = opp.ProgressFunc
)

const (
	PriorityLow    = opp.PriorityLow
	PriorityNormal = opp.PriorityNormal
	PriorityHigh   = opp.PriorityHigh

	QueueWaiting   = opp.QueueWaiting
	QueueUploading = opp.QueueUploading
	QueueCompleted = opp.QueueCompleted
	QueueFailed    = opp.QueueFailed
)

// Firmware updates.
type (
	FirmwareFile       = dfu.FirmwareFile
	UpdateOptions      = dfu.UpdateOptions
	UpdateState        = dfu.UpdateState
	UpdateStage        = dfu.Stage
	UpdateProgress     = dfu.Progress
	UpdateProgressFunc = dfu.ProgressFunc
	UpdateErrorFunc    = dfu.ErrorFunc
)

const (
	StageConnecting   = dfu.StageConnecting
	StageInitializing = dfu.StageInitializing
	StageUploading    = dfu.StageUploading
	StageValidating   = dfu.StageValidating
	StageActivating   = dfu.StageActivating
	StageCompleted    = dfu.StageCompleted
)

// Timecode.
type (
	Timecode       = timecode.Timecode
	TimecodeFormat = timecode.Format
	SyncSession    = timecode.SyncSession
	SlaveSync      = timecode.SlaveSync
)

const (
	Format24 = timecode.Format24
	Format25 = timecode.Format25
	Format30 = timecode.Format30
	Format50 = timecode.Format50
	Format60 = timecode.Format60
)

// Status monitoring.
type (
	StatusSnapshot     = telemetry.StatusSnapshot
	MonitorOptions     = telemetry.MonitorOptions
	RecordingStatus    = telemetry.RecordingStatus
	RecordingState     = telemetry.RecordingState
	StorageStatus      = telemetry.StorageStatus
	MediaStatus        = telemetry.MediaStatus
	TemperatureReading = telemetry.TemperatureReading
	TemperatureZone    = telemetry.TemperatureZone
	Severity           = telemetry.Severity
	CameraError        = telemetry.CameraError
	ErrorCategory      = telemetry.ErrorCategory
	ErrorSeverity      = telemetry.ErrorSeverity
	SystemStatus       = telemetry.SystemStatus
	PowerStatus        = telemetry.PowerStatus
	PowerSource        = telemetry.PowerSource
	TemperatureAlert   = telemetry.TemperatureAlert
	CameraErrorEvent   = telemetry.CameraErrorEvent
	ErrorRecord        = telemetry.ErrorRecord
)

const (
	RecordingIdle   = telemetry.RecordingIdle
	RecordingActive = telemetry.RecordingActive
	RecordingPaused = telemetry.RecordingPaused

	MediaNone     = telemetry.MediaNone
	MediaReady    = telemetry.MediaReady
	MediaReadOnly = telemetry.MediaReadOnly
	MediaError    = telemetry.MediaError

	ZoneCore    = telemetry.ZoneCore
	ZoneSensor  = telemetry.ZoneSensor
	ZoneBattery = telemetry.ZoneBattery
	ZoneMedia   = telemetry.ZoneMedia

	SeverityNormal    = telemetry.SeverityNormal
	SeverityWarning   = telemetry.SeverityWarning
	SeverityCritical  = telemetry.SeverityCritical
	SeverityEmergency = telemetry.SeverityEmergency

	CategoryGeneral  = telemetry.CategoryGeneral
	CategoryMedia    = telemetry.CategoryMedia
	CategoryPower    = telemetry.CategoryPower
	CategoryThermal  = telemetry.CategoryThermal
	CategoryFirmware = telemetry.CategoryFirmware

	ErrorInfo    = telemetry.ErrorInfo
	ErrorWarning = telemetry.ErrorWarning
	ErrorSerious = telemetry.ErrorSerious
	ErrorFatal   = telemetry.ErrorFatal

	SourceBattery = telemetry.SourceBattery
	SourceMains   = telemetry.SourceMains
	SourceUSB     = telemetry.SourceUSB
)

// Error types, for errors.As.
type (
	ConnectionError = gatt.ConnectionError
	NotFoundError   = gatt.NotFoundError
	TimeoutError    = gatt.TimeoutError
	AdapterError    = gatt.AdapterError
	ResponseError   = gatt.ResponseError
	BusyError       = manager.BusyError
)

// Sentinels, for errors.Is. Each is the owning module's own value, so
// errors wrapped by the modules match here too.
var (
	ErrNotConnected        = gatt.ErrNotConnected
	ErrAlreadyConnected    = gatt.ErrAlreadyConnected
	ErrNotInitialized      = gatt.ErrNotInitialized
	ErrTimeout             = gatt.ErrTimeout
	ErrUnsupported         = gatt.ErrUnsupported
	ErrAdapterOff          = gatt.ErrAdapterOff
	ErrAdapterUnauthorized = gatt.ErrAdapterUnauthorized
	ErrAdapterUnavailable  = gatt.ErrAdapterUnavailable

	ErrClosed     = manager.ErrClosed
	ErrDeviceBusy = manager.ErrDeviceBusy

	ErrIsDirectory    = ftp.ErrIsDirectory
	ErrTransferActive = ftp.ErrTransferActive

	ErrInvalidLUT   = opp.ErrInvalidLUT
	ErrFileExists   = opp.ErrFileExists
	ErrUploadActive = opp.ErrUploadActive

	ErrInvalidFirmware = dfu.ErrInvalidFirmware
	ErrUpdateActive    = dfu.ErrUpdateActive
	ErrNoUpdate        = dfu.ErrNoUpdate

	ErrInvalidTimecode = timecode.ErrInvalidTimecode
	ErrSessionActive   = timecode.ErrSessionActive
	ErrNoSession       = timecode.ErrNoSession

	ErrMonitorActive = telemetry.ErrMonitorActive
	ErrNotMonitoring = telemetry.ErrNotMonitoring
)
